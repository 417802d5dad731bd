package disburse

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Transferor is the external value-transfer substrate. The engine invokes it
// inside the operation's transaction, strictly after the record's balance has
// been zeroed, so a recipient re-entering the engine during the transfer
// observes a record that can no longer authorize a second payout. A returned
// error aborts the whole operation; nothing retries.
type Transferor interface {
	Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64) error
}

// TransferorFunc adapts a function to the Transferor interface, for tests and
// fault injection.
type TransferorFunc func(ctx context.Context, tx pgx.Tx, from, to string, amount int64) error

func (f TransferorFunc) Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64) error {
	return f(ctx, tx, from, to, amount)
}

// CustodyAccount names the engine-held account for one ledger instance. All
// deposits land here and all payouts leave from here, so its balance must
// reconcile with the sum of value over unpaid records.
func CustodyAccount(ledgerID string) string {
	return "custody:" + ledgerID
}
