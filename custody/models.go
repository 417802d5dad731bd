package custody

import (
	"time"

	"custodia/ledger"
)

// CreateParams carries everything needed to open a record. The engine applies
// the per-kind admission gate; façades only fill in their vocabulary.
type CreateParams struct {
	Key         string
	Kind        ledger.Kind
	Beneficiary string
	// TTL bounds the record's life; zero means no expiry.
	TTL time.Duration
	// Capacity and Price apply to event records only.
	Capacity int
	Price    int64
	Payload  string
}

// RedeemParams identifies the record to settle. Secret takes precedence: its
// commitment is re-derived and used as the lookup key, and possession of the
// preimage authorizes the payout. With only Key set, the caller must be the
// record's beneficiary.
type RedeemParams struct {
	Key     string
	Secret  string
	Message string
}

// RecordView is the read-only projection returned by Inspect. Valid means the
// record is active and, as of the read, inside its time bound; the read never
// writes the lazy expiry back.
type RecordView struct {
	Key         string
	Kind        ledger.Kind
	Valid       bool
	Status      string
	Beneficiary string
	Value       int64
	ExpiresAt   *time.Time
	Payload     string
}
