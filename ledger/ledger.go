// Package ledger records settled payments so each (resource, payer) pair is
// charged at most once.
//
// A record is reserved as pending before the facilitator is asked to settle and
// completed once settlement succeeds. The unique key is taken at reservation
// time, so two concurrent requests for the same pair cannot both reach settle.
// A settle whose outcome never came back marks the record unknown. Pending and
// unknown records stay visible through ListPending until an operator completes
// or releases them.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	x402 "github.com/quillwire/x402-settle"
)

// Kind is what the payment was for.
type Kind string

const (
	KindPurchase Kind = "purchase"
	KindTip      Kind = "tip"
	KindDonation Kind = "donation"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusPending Status = "pending"
	StatusUnknown Status = "unknown"
	StatusSettled Status = "settled"
)

// Resolved reports whether the record reached a final state.
func (s Status) Resolved() bool {
	return s == StatusSettled
}

// ErrNotFound is returned for a missing pair or ID, and by Complete, MarkUnknown
// and Release when the record is not in a state they apply to.
var ErrNotFound = errors.New("ledger: record not found")

// Record is one payment.
type Record struct {
	ID         uuid.UUID
	ResourceID string
	Payer      string

	// Amount is in minor units, as a decimal string.
	Amount  string
	Network x402.Network
	Kind    Kind

	// Evidence is a digest of the payment evidence that took the reservation.
	Evidence string

	TxHash    string
	Status    Status
	CreatedAt time.Time
	SettledAt *time.Time
}

// NewRecord returns a pending record with a fresh ID.
func NewRecord(resourceID, payer, amount string, network x402.Network, kind Kind, now time.Time) Record {
	return Record{
		ID:         uuid.New(),
		ResourceID: resourceID,
		Payer:      payer,
		Amount:     amount,
		Network:    network,
		Kind:       kind,
		Status:     StatusPending,
		CreatedAt:  now.UTC(),
	}
}

// Store persists records with a uniqueness constraint on (ResourceID, Payer).
type Store interface {
	// Exists reports whether any record, in any state, holds the pair.
	Exists(ctx context.Context, resourceID, payer string) (bool, error)

	// Find returns the record holding the pair, or ErrNotFound.
	Find(ctx context.Context, resourceID, payer string) (Record, error)

	// Get returns the record with id, or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (Record, error)

	// Reserve inserts rec as pending. A record already holding the pair makes
	// it fail with an error wrapping x402.ErrAlreadySettled.
	Reserve(ctx context.Context, rec Record) error

	// Complete marks a pending or unknown record settled.
	Complete(ctx context.Context, id uuid.UUID, txHash string, settledAt time.Time) error

	// MarkUnknown flags a pending record whose settle outcome never arrived.
	MarkUnknown(ctx context.Context, id uuid.UUID) error

	// Release deletes a pending or unknown record. Settled records are never released.
	Release(ctx context.Context, id uuid.UUID) error

	// ListPending returns unresolved (pending or unknown) records created
	// before olderThan, oldest first.
	ListPending(ctx context.Context, olderThan time.Time) ([]Record, error)
}

func duplicate(resourceID, payer string) error {
	return fmt.Errorf("%w: %s already paid for %s", x402.ErrAlreadySettled, payer, resourceID)
}
