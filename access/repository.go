package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"custodia/ledger"
)

var (
	// ErrAlreadyMember signals the principal is already on the roster.
	ErrAlreadyMember = errors.New("access: already a member")
	// ErrNotMember signals the principal is not on the roster.
	ErrNotMember = errors.New("access: not a member")
)

// Repository is the pgx-backed owner and member roster.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed access repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateLedger registers a new ledger instance under the given owner.
func (r *Repository) CreateLedger(ctx context.Context, name, ownerID string) (Ledger, error) {
	const insertSQL = `
		INSERT INTO ledgers (name, owner_id)
		VALUES ($1, $2)
		RETURNING id, name, owner_id, created_at, updated_at
	`

	var l Ledger
	err := r.pool.QueryRow(ctx, insertSQL, name, ownerID).Scan(&l.ID, &l.Name, &l.OwnerID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Ledger{}, ledger.ErrAlreadyExists
		}
		return Ledger{}, fmt.Errorf("access: create ledger: %w", err)
	}
	return l, nil
}

// GetOwnerForUpdate reads the ledger owner inside the transaction, taking the
// ledger row lock so ownership cannot change mid-operation.
func (r *Repository) GetOwnerForUpdate(ctx context.Context, tx pgx.Tx, ledgerID string) (string, error) {
	var owner string
	err := tx.QueryRow(ctx, `SELECT owner_id FROM ledgers WHERE id = $1 FOR UPDATE`, ledgerID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ledger.ErrNotFound
		}
		return "", fmt.Errorf("access: get owner: %w", err)
	}
	return owner, nil
}

// GetOwner reads the ledger owner without locking, for read-only checks.
func (r *Repository) GetOwner(ctx context.Context, ledgerID string) (string, error) {
	var owner string
	err := r.pool.QueryRow(ctx, `SELECT owner_id FROM ledgers WHERE id = $1`, ledgerID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ledger.ErrNotFound
		}
		return "", fmt.Errorf("access: get owner: %w", err)
	}
	return owner, nil
}

// SetOwner reassigns the ledger to a new owner.
func (r *Repository) SetOwner(ctx context.Context, tx pgx.Tx, ledgerID, newOwner string) error {
	tag, err := tx.Exec(ctx, `UPDATE ledgers SET owner_id = $1, updated_at = now() WHERE id = $2`, newOwner, ledgerID)
	if err != nil {
		return fmt.Errorf("access: set owner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// AddMember puts a principal on the roster.
func (r *Repository) AddMember(ctx context.Context, tx pgx.Tx, ledgerID, principalID string) error {
	_, err := tx.Exec(ctx, `INSERT INTO members (ledger_id, principal_id) VALUES ($1, $2)`, ledgerID, principalID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyMember
		}
		return fmt.Errorf("access: add member: %w", err)
	}
	return nil
}

// RemoveMember takes a principal off the roster.
func (r *Repository) RemoveMember(ctx context.Context, tx pgx.Tx, ledgerID, principalID string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM members WHERE ledger_id = $1 AND principal_id = $2`, ledgerID, principalID)
	if err != nil {
		return fmt.Errorf("access: remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

// IsMember reports whether the principal has group privilege on the ledger.
func (r *Repository) IsMember(ctx context.Context, ledgerID, principalID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM members WHERE ledger_id = $1 AND principal_id = $2)`,
		ledgerID, principalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("access: is member: %w", err)
	}
	return exists, nil
}
