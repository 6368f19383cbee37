package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	x402 "github.com/quillwire/x402-settle"
)

const schema = `
CREATE TABLE IF NOT EXISTS payment_records (
    id          UUID PRIMARY KEY,
    resource_id TEXT NOT NULL,
    payer       TEXT NOT NULL,
    amount      NUMERIC(78, 0) NOT NULL,
    network     TEXT NOT NULL,
    kind        TEXT NOT NULL,
    evidence    TEXT NOT NULL DEFAULT '',
    tx_hash     TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    settled_at  TIMESTAMPTZ,
    UNIQUE (resource_id, payer)
);
ALTER TABLE payment_records ADD COLUMN IF NOT EXISTS evidence TEXT NOT NULL DEFAULT '';
DROP INDEX IF EXISTS payment_records_pending_idx;
CREATE INDEX IF NOT EXISTS payment_records_unresolved_idx
    ON payment_records (created_at) WHERE status <> 'settled';
`

const recordColumns = `id, resource_id, payer, amount::TEXT, network, kind, evidence, tx_hash, status, created_at, settled_at`

// Postgres is a Store backed by a payment_records table.
type Postgres struct {
	DB *sql.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{DB: db}
}

// OpenPostgres opens and pings a lib/pq connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open DB: %w", err)
	}

	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return db, nil
}

// Migrate creates the table and index if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate payment_records: %w", err)
	}
	return nil
}

func (p *Postgres) Exists(ctx context.Context, resourceID, payer string) (bool, error) {
	var exists bool
	err := p.DB.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM payment_records WHERE resource_id = $1 AND payer = $2)
`, resourceID, payer).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ledger exists: %w", err)
	}
	return exists, nil
}

func (p *Postgres) Find(ctx context.Context, resourceID, payer string) (Record, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+recordColumns+`
FROM payment_records WHERE resource_id = $1 AND payer = $2
`, resourceID, payer)
	return scanOne(row, "ledger find")
}

func (p *Postgres) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT `+recordColumns+`
FROM payment_records WHERE id = $1
`, id)
	return scanOne(row, "ledger get")
}

func (p *Postgres) Reserve(ctx context.Context, rec Record) error {
	_, err := p.DB.ExecContext(ctx, `
INSERT INTO payment_records (id, resource_id, payer, amount, network, kind, evidence, tx_hash, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8, $9)
`,
		rec.ID, rec.ResourceID, rec.Payer, rec.Amount,
		string(rec.Network), string(rec.Kind), rec.Evidence, string(StatusPending), rec.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return duplicate(rec.ResourceID, rec.Payer)
	}
	if err != nil {
		return fmt.Errorf("ledger reserve: %w", err)
	}
	return nil
}

func (p *Postgres) Complete(ctx context.Context, id uuid.UUID, txHash string, settledAt time.Time) error {
	res, err := p.DB.ExecContext(ctx, `
UPDATE payment_records
SET tx_hash = $2, status = $3, settled_at = $4
WHERE id = $1 AND status <> $3
`, id, txHash, string(StatusSettled), settledAt.UTC())
	if err != nil {
		return fmt.Errorf("ledger complete: %w", err)
	}
	return requireOneRow(res)
}

func (p *Postgres) MarkUnknown(ctx context.Context, id uuid.UUID) error {
	res, err := p.DB.ExecContext(ctx, `
UPDATE payment_records SET status = $2 WHERE id = $1 AND status = $3
`, id, string(StatusUnknown), string(StatusPending))
	if err != nil {
		return fmt.Errorf("ledger mark unknown: %w", err)
	}
	return requireOneRow(res)
}

func (p *Postgres) Release(ctx context.Context, id uuid.UUID) error {
	res, err := p.DB.ExecContext(ctx, `
DELETE FROM payment_records WHERE id = $1 AND status <> $2
`, id, string(StatusSettled))
	if err != nil {
		return fmt.Errorf("ledger release: %w", err)
	}
	return requireOneRow(res)
}

func (p *Postgres) ListPending(ctx context.Context, olderThan time.Time) ([]Record, error) {
	rows, err := p.DB.QueryContext(ctx, `SELECT `+recordColumns+`
FROM payment_records
WHERE status <> $1 AND created_at < $2
ORDER BY created_at ASC
`, string(StatusSettled), olderThan.UTC())
	if err != nil {
		return nil, fmt.Errorf("ledger list pending: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger list pending: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOne(s rowScanner, op string) (Record, error) {
	rec, err := scanRecord(s)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func scanRecord(s rowScanner) (Record, error) {
	var (
		rec                                              Record
		resourceID, payer, amount, network, kind, status string
		evidence, txHash                                 string
		createdAt                                        time.Time
		settledAt                                        sql.NullTime
	)
	if err := s.Scan(
		&rec.ID, &resourceID, &payer, &amount, &network, &kind, &evidence, &txHash, &status,
		&createdAt, &settledAt,
	); err != nil {
		return Record{}, err
	}
	rec.ResourceID = strings.TrimSpace(resourceID)
	rec.Payer = strings.TrimSpace(payer)
	rec.Amount = amount
	rec.Network = x402.Network(network)
	rec.Kind = Kind(kind)
	rec.Evidence = evidence
	rec.TxHash = txHash
	rec.Status = Status(status)
	rec.CreatedAt = createdAt.UTC()
	if settledAt.Valid {
		t := settledAt.Time.UTC()
		rec.SettledAt = &t
	}
	return rec, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// isUniqueViolation detects a PostgreSQL duplicate key error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
