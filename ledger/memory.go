package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type pairKey struct {
	resource string
	payer    string
}

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	byPair map[pairKey]uuid.UUID
	byID   map[uuid.UUID]Record
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byPair: make(map[pairKey]uuid.UUID),
		byID:   make(map[uuid.UUID]Record),
	}
}

func (m *Memory) Exists(_ context.Context, resourceID, payer string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byPair[pairKey{resourceID, payer}]
	return ok, nil
}

func (m *Memory) Find(_ context.Context, resourceID, payer string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byPair[pairKey{resourceID, payer}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return m.byID[id], nil
}

func (m *Memory) Reserve(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pairKey{rec.ResourceID, rec.Payer}
	if _, ok := m.byPair[k]; ok {
		return duplicate(rec.ResourceID, rec.Payer)
	}
	rec.Status = StatusPending
	m.byPair[k] = rec.ID
	m.byID[rec.ID] = rec
	return nil
}

func (m *Memory) Complete(_ context.Context, id uuid.UUID, txHash string, settledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok || rec.Status.Resolved() {
		return ErrNotFound
	}
	at := settledAt.UTC()
	rec.TxHash = txHash
	rec.Status = StatusSettled
	rec.SettledAt = &at
	m.byID[id] = rec
	return nil
}

func (m *Memory) MarkUnknown(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok || rec.Status != StatusPending {
		return ErrNotFound
	}
	rec.Status = StatusUnknown
	m.byID[id] = rec
	return nil
}

func (m *Memory) Release(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok || rec.Status.Resolved() {
		return ErrNotFound
	}
	delete(m.byID, id)
	delete(m.byPair, pairKey{rec.ResourceID, rec.Payer})
	return nil
}

func (m *Memory) ListPending(_ context.Context, olderThan time.Time) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.byID {
		if !rec.Status.Resolved() && rec.CreatedAt.Before(olderThan) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}
