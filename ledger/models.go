package ledger

import "time"

// Status is the stored lifecycle state of a record. Ownership transfer keeps a
// record active; only the four settlement outcomes are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusVoided    Status = "voided"
	StatusRedeemed  Status = "redeemed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Kind discriminates the record variants sharing the records table.
type Kind string

const (
	KindWarranty Kind = "warranty"
	KindGift     Kind = "gift"
	KindGiftCard Kind = "giftcard"
	KindTreasury Kind = "treasury"
	KindEvent    Kind = "event"
	KindRSVP     Kind = "rsvp"
)

// Record is the unit of custody. Key is opaque to the engine (serial number,
// item id, secret-commitment hash, attendee key) and unique per ledger for all
// time. Value is the custodied amount, zero for non-monetary kinds.
type Record struct {
	ID          string
	LedgerID    string
	Key         string
	Kind        Kind
	Status      Status
	Value       int64
	Depositor   string
	Beneficiary string
	ParentKey   string
	Capacity    int
	Price       int64
	CheckedIn   bool
	Payload     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   *time.Time
}

// HistoryEntry is an immutable audit line. Entries are appended inside the
// same transaction as the mutation they describe and never edited.
type HistoryEntry struct {
	ID           int64
	LedgerID     string
	RecordKey    string
	Seq          int
	Actor        string
	Counterparty string
	Amount       int64
	Reason       string
	CreatedAt    time.Time
}

// Outbox topics, one per committed transition kind.
const (
	TopicRecordCreated     = "record.created"
	TopicRecordTransferred = "record.transferred"
	TopicRecordVoided      = "record.voided"
	TopicRecordRedeemed    = "record.redeemed"
	TopicRecordCancelled   = "record.cancelled"
	TopicRecordCheckedIn   = "record.checked_in"
	TopicRecordExpired     = "record.expired"
	TopicFundsWithdrawn    = "funds.withdrawn"
	TopicMemberAdded       = "member.added"
	TopicMemberRemoved     = "member.removed"
	TopicOwnerTransferred  = "owner.transferred"
)

// ListFilters bounds record listings so callers never receive the whole table.
type ListFilters struct {
	Kind     Kind
	Page     int
	PageSize int
}
