package disburse

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInsufficientFunds signals the paying account cannot cover the amount.
var ErrInsufficientFunds = errors.New("disburse: insufficient funds")

// AccountBook is a Transferor over the accounts table. Both legs run in the
// caller's transaction: a failed credit rolls back the debit along with every
// engine effect of the surrounding operation.
type AccountBook struct {
	pool *pgxpool.Pool
}

// NewAccountBook wires a pgxpool-backed account book.
func NewAccountBook(pool *pgxpool.Pool) *AccountBook {
	return &AccountBook{pool: pool}
}

// Transfer moves amount from one account to the other inside tx.
func (b *AccountBook) Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("disburse: non-positive amount %d", amount)
	}
	if from == "" || to == "" {
		return fmt.Errorf("disburse: empty account")
	}

	// Every statement touches the two rows in sorted account order, so
	// opposing concurrent transfers queue on the same row first instead of
	// deadlocking. When the credit sorts ahead of the debit, a failed debit
	// unwinds the already-applied credit through the caller's rollback.
	first, second := from, to
	if second < first {
		first, second = second, first
	}
	for _, acct := range []string{first, second} {
		if _, err := tx.Exec(ctx, `
INSERT INTO accounts (principal_id, balance) VALUES ($1, 0)
ON CONFLICT (principal_id) DO NOTHING`, acct); err != nil {
			return fmt.Errorf("disburse: ensure account %s: %w", acct, err)
		}
	}

	debit := func() error {
		tag, err := tx.Exec(ctx, `
UPDATE accounts SET balance = balance - $1, updated_at = now()
WHERE principal_id = $2 AND balance >= $1`, amount, from)
		if err != nil {
			return fmt.Errorf("disburse: debit %s: %w", from, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInsufficientFunds
		}
		return nil
	}
	credit := func() error {
		if _, err := tx.Exec(ctx, `
UPDATE accounts SET balance = balance + $1, updated_at = now()
WHERE principal_id = $2`, amount, to); err != nil {
			return fmt.Errorf("disburse: credit %s: %w", to, err)
		}
		return nil
	}

	steps := []func() error{debit, credit}
	if to < from {
		steps[0], steps[1] = steps[1], steps[0]
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	return nil
}

// Deposit credits an account outside any engine operation, seeding funds for
// callers that will later attach value to a call.
func (b *AccountBook) Deposit(ctx context.Context, principalID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("disburse: non-positive amount %d", amount)
	}
	if _, err := b.pool.Exec(ctx, `
INSERT INTO accounts (principal_id, balance) VALUES ($1, $2)
ON CONFLICT (principal_id) DO UPDATE SET balance = accounts.balance + $2, updated_at = now()`,
		principalID, amount); err != nil {
		return fmt.Errorf("disburse: deposit: %w", err)
	}
	return nil
}

// Balance reads an account balance; unknown accounts hold zero.
func (b *AccountBook) Balance(ctx context.Context, principalID string) (int64, error) {
	var balance int64
	err := b.pool.QueryRow(ctx,
		`SELECT COALESCE((SELECT balance FROM accounts WHERE principal_id = $1), 0)`,
		principalID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("disburse: balance: %w", err)
	}
	return balance, nil
}

// Reconcile returns the custody account balance and the sum of value still
// recorded for one ledger. Settlement zeroes record value in the same
// transaction that pays out, so the two must always agree.
func (b *AccountBook) Reconcile(ctx context.Context, ledgerID string) (held int64, owed int64, err error) {
	err = b.pool.QueryRow(ctx, `
SELECT COALESCE((SELECT balance FROM accounts WHERE principal_id = $1), 0),
       COALESCE((SELECT SUM(value) FROM records WHERE ledger_id = $2), 0)`,
		CustodyAccount(ledgerID), ledgerID).Scan(&held, &owed)
	if err != nil {
		return 0, 0, fmt.Errorf("disburse: reconcile: %w", err)
	}
	return held, owed, nil
}
