package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quillwire/x402-settle/ledger"
)

type pendingEntry struct {
	ID         string `json:"id"`
	ResourceID string `json:"resourceId"`
	Payer      string `json:"payer"`
	Amount     string `json:"amount"`
	Network    string `json:"network"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	TxHash     string `json:"transactionHash,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

func newPendingEntry(rec ledger.Record) pendingEntry {
	return pendingEntry{
		ID:         rec.ID.String(),
		ResourceID: rec.ResourceID,
		Payer:      rec.Payer,
		Amount:     rec.Amount,
		Network:    string(rec.Network),
		Kind:       string(rec.Kind),
		Status:     string(rec.Status),
		TxHash:     rec.TxHash,
		CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func pendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List payment reservations that never completed",
		Long: `List reservations older than reconcile_after that are still pending, or
whose settle outcome is unknown.

While such a reservation exists, the payer gets settlement_pending for the
resource. Check the transaction on chain, then resolve it:

  paywalld pending resolve <id> --tx <hash>   the payment landed
  paywalld pending resolve <id> --release     it did not; the payer may pay again`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errNoDatabase
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			stale, err := a.Stale(cmd.Context())
			if err != nil {
				return err
			}
			entries := make([]pendingEntry, 0, len(stale))
			for _, rec := range stale {
				entries = append(entries, newPendingEntry(rec))
			}
			return writeJSON(cmd.OutOrStdout(), entries)
		},
	}
	cmd.AddCommand(resolveCmd())
	return cmd
}

func resolveCmd() *cobra.Command {
	var (
		txHash  string
		release bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Complete or release an unresolved reservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid record id %q: %w", args[0], err)
			}
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return errNoDatabase
			}
			store, db, err := openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			rec, err := resolve(cmd.Context(), store, id, txHash, release, time.Now())
			if err != nil {
				return err
			}
			logger.Info("reservation resolved", "id", id, "status", rec.Status)
			return writeJSON(cmd.OutOrStdout(), newPendingEntry(rec))
		},
	}
	cmd.Flags().StringVar(&txHash, "tx", "", "transaction hash of the payment that landed on chain")
	cmd.Flags().BoolVar(&release, "release", false, "drop the reservation because the payment did not land")
	cmd.MarkFlagsMutuallyExclusive("tx", "release")
	cmd.MarkFlagsOneRequired("tx", "release")
	return cmd
}

// resolve completes or releases one unresolved record and returns its final form.
// A released record is returned as it was before deletion.
func resolve(ctx context.Context, store ledger.Store, id uuid.UUID, txHash string, release bool, now time.Time) (ledger.Record, error) {
	rec, err := store.Get(ctx, id)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("record %s: %w", id, err)
	}
	if rec.Status.Resolved() {
		return ledger.Record{}, fmt.Errorf("record %s is already settled", id)
	}

	if release {
		if err := store.Release(ctx, id); err != nil {
			return ledger.Record{}, fmt.Errorf("release %s: %w", id, err)
		}
		return rec, nil
	}
	if txHash == "" {
		return ledger.Record{}, errors.New("a transaction hash is required to complete a record")
	}
	if err := store.Complete(ctx, id, txHash, now); err != nil {
		return ledger.Record{}, fmt.Errorf("complete %s: %w", id, err)
	}
	return store.Get(ctx, id)
}
