package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	x402 "github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/settlement"
)

// Seed is the YAML layout of a catalog file.
type Seed struct {
	Articles []SeedArticle `yaml:"articles"`
	Authors  []SeedAuthor  `yaml:"authors"`
}

type SeedArticle struct {
	ID       string `yaml:"id"`
	AuthorID string `yaml:"author_id"`
	Title    string `yaml:"title"`
	URL      string `yaml:"url"`
	Price    string `yaml:"price"`
}

type SeedAuthor struct {
	ID        string      `yaml:"id"`
	Primary   SeedWallet  `yaml:"primary"`
	Secondary *SeedWallet `yaml:"secondary"`
}

type SeedWallet struct {
	Network string `yaml:"network"`
	Address string `yaml:"address"`
}

// LoadFile reads a catalog seed file into a new Memory.
func LoadFile(ctx context.Context, path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return FromSeed(ctx, seed)
}

// FromSeed builds a Memory, validating every price and wallet.
func FromSeed(ctx context.Context, seed Seed) (*Memory, error) {
	m := NewMemory()
	for _, a := range seed.Articles {
		price, err := decimal.NewFromString(a.Price)
		if err != nil {
			return nil, fmt.Errorf("article %s: %w: price %q", a.ID, x402.ErrInvalidAmount, a.Price)
		}
		m.PutArticle(settlement.Resource{ID: a.ID, AuthorID: a.AuthorID, Title: a.Title, URL: a.URL, Price: price})
	}
	for _, au := range seed.Authors {
		if err := m.SetPayoutWallet(ctx, au.ID, SlotPrimary, x402.Network(au.Primary.Network), au.Primary.Address); err != nil {
			return nil, fmt.Errorf("author %s primary wallet: %w", au.ID, err)
		}
		if au.Secondary != nil {
			if err := m.SetPayoutWallet(ctx, au.ID, SlotSecondary, x402.Network(au.Secondary.Network), au.Secondary.Address); err != nil {
				return nil, fmt.Errorf("author %s secondary wallet: %w", au.ID, err)
			}
		}
	}
	return m, nil
}
