package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id, ledger_id, key, kind, status, value, depositor, beneficiary, parent_key, capacity, price, checked_in, payload, created_at, updated_at, expires_at`

// Repository is the pgx-backed ledger store. Reads go through the pool;
// every write takes the caller's transaction so one operation commits or
// aborts as a whole.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed store implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches a record outside any transaction, for read-only projections.
func (r *Repository) Get(ctx context.Context, ledgerID, key string) (Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM records WHERE ledger_id = $1 AND key = $2`, recordColumns)
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, ledgerID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("ledger: get record: %w", err)
	}
	return rec, nil
}

// GetForUpdate fetches a record inside the transaction and takes its row lock,
// serializing every guarded transition on the same key.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, ledgerID, key string) (Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM records WHERE ledger_id = $1 AND key = $2 FOR UPDATE`, recordColumns)
	rec, err := scanRecord(tx.QueryRow(ctx, query, ledgerID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("ledger: get record for update: %w", err)
	}
	return rec, nil
}

// Insert creates a fresh active record. A key collision surfaces as
// ErrAlreadyExists; terminal rows are never cleared, so a settled key can
// never be re-registered.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	insertSQL := fmt.Sprintf(`
INSERT INTO records (id, ledger_id, key, kind, status, value, depositor, beneficiary, parent_key, capacity, price, payload, expires_at)
VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, 'active', $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING %s`, recordColumns)

	created, err := scanRecord(tx.QueryRow(ctx, insertSQL,
		rec.ID, rec.LedgerID, rec.Key, rec.Kind, rec.Value,
		rec.Depositor, rec.Beneficiary, rec.ParentKey, rec.Capacity, rec.Price, rec.Payload, rec.ExpiresAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrAlreadyExists
		}
		return Record{}, fmt.Errorf("ledger: insert record: %w", err)
	}
	return created, nil
}

// SetBeneficiary reassigns an active record to a new beneficiary.
func (r *Repository) SetBeneficiary(ctx context.Context, tx pgx.Tx, ledgerID, key, beneficiary string) error {
	tag, err := tx.Exec(ctx, `
UPDATE records SET beneficiary = $1, updated_at = now()
WHERE ledger_id = $2 AND key = $3 AND status = 'active'`, beneficiary, ledgerID, key)
	if err != nil {
		return fmt.Errorf("ledger: set beneficiary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// MarkStatus flips a record's status without touching its value (void and
// lazy expiry). The from-status guard makes the flip at-most-once.
func (r *Repository) MarkStatus(ctx context.Context, tx pgx.Tx, ledgerID, key string, from, to Status) error {
	if !ValidTransition(from, to) {
		return ErrInvalidState
	}
	tag, err := tx.Exec(ctx, `
UPDATE records SET status = $1, updated_at = now()
WHERE ledger_id = $2 AND key = $3 AND status = $4`, to, ledgerID, key, from)
	if err != nil {
		return fmt.Errorf("ledger: mark status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// Settle zeroes the record's balance and flips it terminal in a single guarded
// update. The guard (still active, value still positive) is what makes payout
// at-most-once: a second settle on the same key matches no row regardless of
// interleaving.
func (r *Repository) Settle(ctx context.Context, tx pgx.Tx, ledgerID, key string, to Status) error {
	if !ValidTransition(StatusActive, to) {
		return ErrInvalidState
	}
	tag, err := tx.Exec(ctx, `
UPDATE records SET status = $1, value = 0, updated_at = now()
WHERE ledger_id = $2 AND key = $3 AND status = 'active' AND value > 0`, to, ledgerID, key)
	if err != nil {
		return fmt.Errorf("ledger: settle record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// MarkCheckedIn sets the check-in flag exactly once.
func (r *Repository) MarkCheckedIn(ctx context.Context, tx pgx.Tx, ledgerID, key string) error {
	tag, err := tx.Exec(ctx, `
UPDATE records SET checked_in = true, updated_at = now()
WHERE ledger_id = $1 AND key = $2 AND checked_in = false`, ledgerID, key)
	if err != nil {
		return fmt.Errorf("ledger: mark checked in: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// CountAdmitted counts the child records of an event key that still hold a
// seat. Voided and cancelled seats are surrendered and count against nothing;
// checked-in (redeemed) seats were consumed and still count. Callers must
// hold the parent row lock so admission and counting cannot interleave.
func (r *Repository) CountAdmitted(ctx context.Context, tx pgx.Tx, ledgerID, parentKey string) (int, error) {
	var n int
	err := tx.QueryRow(ctx, `
SELECT COUNT(*) FROM records
WHERE ledger_id = $1 AND parent_key = $2 AND status NOT IN ('voided', 'cancelled')`, ledgerID, parentKey).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ledger: count admitted: %w", err)
	}
	return n, nil
}

// AppendHistory writes one audit line with the next per-key sequence number.
func (r *Repository) AppendHistory(ctx context.Context, tx pgx.Tx, entry HistoryEntry) error {
	_, err := tx.Exec(ctx, `
INSERT INTO history (ledger_id, record_key, seq, actor, counterparty, amount, reason)
SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6
FROM history WHERE ledger_id = $1 AND record_key = $2`,
		entry.LedgerID, entry.RecordKey, entry.Actor, entry.Counterparty, entry.Amount, entry.Reason)
	if err != nil {
		return fmt.Errorf("ledger: append history: %w", err)
	}
	return nil
}

// Recent returns the last min(n, len) history entries, most recent first. The
// underlying log is left untouched.
func (r *Repository) Recent(ctx context.Context, ledgerID string, n int) ([]HistoryEntry, error) {
	if n <= 0 || n > 100 {
		n = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, ledger_id, record_key, seq, actor, counterparty, amount, reason, created_at
FROM history WHERE ledger_id = $1
ORDER BY id DESC LIMIT $2`, ledgerID, n)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent history: %w", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.LedgerID, &e.RecordKey, &e.Seq, &e.Actor, &e.Counterparty, &e.Amount, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// List returns a page of records for one ledger, newest first.
func (r *Repository) List(ctx context.Context, ledgerID string, filters ListFilters) ([]Record, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	query := fmt.Sprintf(`
SELECT %s FROM records
WHERE ledger_id = $1 AND ($2 = '' OR kind = $2::record_kind)
ORDER BY created_at DESC LIMIT $3 OFFSET $4`, recordColumns)

	rows, err := r.pool.Query(ctx, query, ledgerID, string(filters.Kind), filters.PageSize, (filters.Page-1)*filters.PageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("ledger: list records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM records WHERE ledger_id = $1 AND ($2 = '' OR kind = $2::record_kind)`,
		ledgerID, string(filters.Kind)).Scan(&total); err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// Enqueue inserts one outbox message in the caller's transaction so the event
// is emitted exactly when the transition commits.
func (r *Repository) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ledger: marshal outbox payload: %w", err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO outbox (topic, payload) VALUES ($1, $2)`, topic, payloadBytes); err != nil {
		return fmt.Errorf("ledger: insert outbox message: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.LedgerID,
		&rec.Key,
		&rec.Kind,
		&rec.Status,
		&rec.Value,
		&rec.Depositor,
		&rec.Beneficiary,
		&rec.ParentKey,
		&rec.Capacity,
		&rec.Price,
		&rec.CheckedIn,
		&rec.Payload,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.ExpiresAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
