package access

import "time"

// Ledger is one independent engine instance: a named record space with
// exactly one owner. Multiple ledgers coexist in one process and database.
type Ledger struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Member is a principal granted group privilege on a ledger. The owner is
// implicitly privileged and is not listed here.
type Member struct {
	LedgerID    string
	PrincipalID string
	AddedAt     time.Time
}
