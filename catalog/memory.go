// Package catalog is an in-memory article and author store. It stands in for
// the content database in tests and single-node deployments.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	x402 "github.com/quillwire/x402-settle"
	"github.com/quillwire/x402-settle/address"
	"github.com/quillwire/x402-settle/ledger"
	"github.com/quillwire/x402-settle/payout"
	"github.com/quillwire/x402-settle/settlement"
)

// Slot selects which payout method SetPayoutWallet replaces.
type Slot int

const (
	SlotPrimary Slot = iota
	SlotSecondary
)

// Stats are display counters for one article.
type Stats struct {
	Purchases int64
	Tips      int64
	Earnings  decimal.Decimal
}

// Memory implements settlement.ResourceStore and settlement.ProfileStore.
type Memory struct {
	mu       sync.RWMutex
	articles map[string]settlement.Resource
	stats    map[string]Stats
	profiles map[string]payout.Profile
	wallets  map[string]string // normalized address -> author ID
}

var (
	_ settlement.ResourceStore = (*Memory)(nil)
	_ settlement.ProfileStore  = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		articles: make(map[string]settlement.Resource),
		stats:    make(map[string]Stats),
		profiles: make(map[string]payout.Profile),
		wallets:  make(map[string]string),
	}
}

// PutArticle adds or replaces an article.
func (m *Memory) PutArticle(res settlement.Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.articles[res.ID] = res
}

func (m *Memory) GetByID(_ context.Context, id string) (settlement.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.articles[id]
	if !ok {
		return settlement.Resource{}, fmt.Errorf("%w: %s", x402.ErrResourceNotFound, id)
	}
	return res, nil
}

// RecordPurchaseStats applies delta with read-modify-write semantics.
func (m *Memory) RecordPurchaseStats(_ context.Context, id string, delta settlement.StatsDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.articles[id]; !ok {
		return fmt.Errorf("%w: %s", x402.ErrResourceNotFound, id)
	}
	s := m.stats[id]
	switch delta.Kind {
	case ledger.KindPurchase:
		s.Purchases += delta.Count
	case ledger.KindTip:
		s.Tips += delta.Count
	}
	s.Earnings = s.Earnings.Add(delta.Earnings)
	m.stats[id] = s
	return nil
}

// StatsFor returns the counters for an article.
func (m *Memory) StatsFor(id string) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats[id]
}

// GetPayoutProfile looks the author up by ID first, then by any payout address.
func (m *Memory) GetPayoutProfile(_ context.Context, addressOrID string) (payout.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.profiles[addressOrID]; ok {
		return p, nil
	}
	if normalized, _, err := address.NormalizeFlexible(addressOrID); err == nil {
		if authorID, ok := m.wallets[normalized]; ok {
			return m.profiles[authorID], nil
		}
	}
	return payout.Profile{}, fmt.Errorf("%w: no payout profile for %q", x402.ErrResourceNotFound, addressOrID)
}

// SetPayoutWallet sets an author's primary or secondary payout method. An
// author must have a primary before a secondary can be added.
func (m *Memory) SetPayoutWallet(_ context.Context, authorID string, slot Slot, network x402.Network, addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.profiles[authorID]
	var next payout.Profile
	var err error
	switch slot {
	case SlotPrimary:
		var method payout.Method
		method, err = payout.NewMethod(network, addr)
		next = payout.Profile{Primary: method, Secondary: current.Secondary}
	case SlotSecondary:
		if !exists {
			return fmt.Errorf("author %s has no primary payout method", authorID)
		}
		next, err = current.SetSecondary(network, addr)
	default:
		return fmt.Errorf("unknown payout slot %d", slot)
	}
	if err != nil {
		return err
	}

	m.unindex(current)
	m.profiles[authorID] = next
	for _, method := range next.Methods() {
		m.wallets[method.Address] = authorID
	}
	return nil
}

// RemoveSecondaryWallet drops an author's secondary payout method.
func (m *Memory) RemoveSecondaryWallet(_ context.Context, authorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.profiles[authorID]
	if !ok {
		return fmt.Errorf("%w: no payout profile for %q", x402.ErrResourceNotFound, authorID)
	}
	m.unindex(current)
	next := current.RemoveSecondary()
	m.profiles[authorID] = next
	for _, method := range next.Methods() {
		m.wallets[method.Address] = authorID
	}
	return nil
}

func (m *Memory) unindex(p payout.Profile) {
	for _, method := range p.Methods() {
		delete(m.wallets, method.Address)
	}
}
