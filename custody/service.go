package custody

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"custodia/disburse"
	"custodia/identity"
	"custodia/ledger"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the ledger data access required by the engine.
type Store interface {
	Get(ctx context.Context, ledgerID, key string) (ledger.Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, ledgerID, key string) (ledger.Record, error)
	Insert(ctx context.Context, tx pgx.Tx, rec ledger.Record) (ledger.Record, error)
	SetBeneficiary(ctx context.Context, tx pgx.Tx, ledgerID, key, beneficiary string) error
	MarkStatus(ctx context.Context, tx pgx.Tx, ledgerID, key string, from, to ledger.Status) error
	Settle(ctx context.Context, tx pgx.Tx, ledgerID, key string, to ledger.Status) error
	MarkCheckedIn(ctx context.Context, tx pgx.Tx, ledgerID, key string) error
	CountAdmitted(ctx context.Context, tx pgx.Tx, ledgerID, parentKey string) (int, error)
	AppendHistory(ctx context.Context, tx pgx.Tx, entry ledger.HistoryEntry) error
	Recent(ctx context.Context, ledgerID string, n int) ([]ledger.HistoryEntry, error)
	List(ctx context.Context, ledgerID string, filters ledger.ListFilters) ([]ledger.Record, int, error)
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Authorizer is the access-control surface the engine consults before any
// state is touched.
type Authorizer interface {
	RequireOwner(ctx context.Context, ledgerID, callerID string) error
	IsMember(ctx context.Context, ledgerID, principalID string) (bool, error)
}

// Engine is the conditional-release core shared by every façade. Each
// operation runs as one transaction ordered checks, then effects, then the
// external transfer, so a failed or reentrant transfer can never observe a
// record that still authorizes payout.
type Engine struct {
	pool       TxBeginner
	store      Store
	auth       Authorizer
	transferor disburse.Transferor
	idGen      func() string
	now        func() time.Time
}

// NewEngine builds the custody engine.
func NewEngine(pool TxBeginner, store Store, auth Authorizer, transferor disburse.Transferor) *Engine {
	return &Engine{
		pool:       pool,
		store:      store,
		auth:       auth,
		transferor: transferor,
		idGen:      func() string { return uuid.NewString() },
		now:        time.Now,
	}
}

// WithIDGenerator overrides record id generation, for tests.
func (e *Engine) WithIDGenerator(gen func() string) *Engine {
	e.idGen = gen
	return e
}

// WithClock overrides the time source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Create opens a fresh record. Warranty, gift, and event records are
// owner-gated; gift cards are open deposits; treasury deposits are
// member-gated. Monetary kinds custody the value attached to the call before
// the record row exists, all inside the same transaction.
func (e *Engine) Create(ctx context.Context, ledgerID string, caller identity.Caller, params CreateParams) (ledger.Record, error) {
	if strings.TrimSpace(params.Key) == "" {
		return ledger.Record{}, fmt.Errorf("custody: key required: %w", ledger.ErrInvalidInput)
	}
	if caller.Principal == "" {
		return ledger.Record{}, ledger.ErrUnauthorized
	}
	if params.TTL < 0 || caller.AttachedValue < 0 {
		return ledger.Record{}, ledger.ErrInvalidInput
	}

	switch params.Kind {
	case ledger.KindWarranty, ledger.KindGift:
		if err := e.auth.RequireOwner(ctx, ledgerID, caller.Principal); err != nil {
			return ledger.Record{}, err
		}
		if strings.TrimSpace(params.Beneficiary) == "" {
			return ledger.Record{}, fmt.Errorf("custody: beneficiary required: %w", ledger.ErrInvalidInput)
		}
	case ledger.KindEvent:
		if err := e.auth.RequireOwner(ctx, ledgerID, caller.Principal); err != nil {
			return ledger.Record{}, err
		}
		if params.Capacity <= 0 {
			return ledger.Record{}, fmt.Errorf("custody: capacity must be positive: %w", ledger.ErrInvalidInput)
		}
		if params.Price <= 0 {
			// A free seat would custody nothing, and the settle guard refuses
			// zero-value records, so its check-in could never succeed.
			return ledger.Record{}, fmt.Errorf("custody: price must be positive: %w", ledger.ErrInvalidInput)
		}
	case ledger.KindGiftCard:
		if caller.AttachedValue <= 0 {
			return ledger.Record{}, fmt.Errorf("custody: deposit required: %w", ledger.ErrInvalidInput)
		}
	case ledger.KindTreasury:
		member, err := e.auth.IsMember(ctx, ledgerID, caller.Principal)
		if err != nil {
			return ledger.Record{}, err
		}
		if !member {
			return ledger.Record{}, ledger.ErrUnauthorized
		}
		if caller.AttachedValue <= 0 {
			return ledger.Record{}, fmt.Errorf("custody: deposit required: %w", ledger.ErrInvalidInput)
		}
	default:
		return ledger.Record{}, fmt.Errorf("custody: unknown kind %q: %w", params.Kind, ledger.ErrInvalidInput)
	}

	beneficiary := strings.TrimSpace(params.Beneficiary)
	if beneficiary == "" {
		beneficiary = caller.Principal
	}

	rec := ledger.Record{
		ID:          e.idGen(),
		LedgerID:    ledgerID,
		Key:         params.Key,
		Kind:        params.Kind,
		Value:       caller.AttachedValue,
		Depositor:   caller.Principal,
		Beneficiary: beneficiary,
		Capacity:    params.Capacity,
		Price:       params.Price,
		Payload:     params.Payload,
	}
	if params.TTL > 0 {
		expiresAt := e.now().Add(params.TTL)
		rec.ExpiresAt = &expiresAt
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("custody: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if caller.AttachedValue > 0 {
		if err := e.transferor.Transfer(ctx, tx, caller.Principal, disburse.CustodyAccount(ledgerID), caller.AttachedValue); err != nil {
			return ledger.Record{}, fmt.Errorf("custody: custody deposit: %w: %v", ledger.ErrTransferFailed, err)
		}
	}

	created, err := e.store.Insert(ctx, tx, rec)
	if err != nil {
		return ledger.Record{}, err
	}

	if err := e.store.AppendHistory(ctx, tx, ledger.HistoryEntry{
		LedgerID:     ledgerID,
		RecordKey:    created.Key,
		Actor:        caller.Principal,
		Counterparty: created.Beneficiary,
		Amount:       created.Value,
		Reason:       "created",
	}); err != nil {
		return ledger.Record{}, err
	}

	if err := e.store.Enqueue(ctx, tx, ledger.TopicRecordCreated, map[string]any{
		"ledger_id":   ledgerID,
		"key":         created.Key,
		"kind":        created.Kind,
		"actor":       caller.Principal,
		"beneficiary": created.Beneficiary,
		"amount":      created.Value,
	}); err != nil {
		return ledger.Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.Record{}, fmt.Errorf("custody: commit: %w", err)
	}
	return created, nil
}

// Transfer reassigns an active record to a new beneficiary. Only the current
// beneficiary may transfer, and only inside the record's time bound.
func (e *Engine) Transfer(ctx context.Context, ledgerID string, caller identity.Caller, key, newBeneficiary string) error {
	if strings.TrimSpace(newBeneficiary) == "" {
		return fmt.Errorf("custody: new beneficiary required: %w", ledger.ErrInvalidInput)
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("custody: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := e.store.GetForUpdate(ctx, tx, ledgerID, key)
	if err != nil {
		return err
	}
	if expired, err := e.expireIfDue(ctx, tx, rec); err != nil {
		return err
	} else if expired {
		return ledger.ErrExpired
	}
	if rec.Status != ledger.StatusActive {
		return ledger.ErrInvalidState
	}
	if rec.Beneficiary != caller.Principal {
		return ledger.ErrUnauthorized
	}

	if err := e.store.SetBeneficiary(ctx, tx, ledgerID, key, newBeneficiary); err != nil {
		return err
	}

	if err := e.store.AppendHistory(ctx, tx, ledger.HistoryEntry{
		LedgerID:     ledgerID,
		RecordKey:    key,
		Actor:        caller.Principal,
		Counterparty: newBeneficiary,
		Reason:       "transferred",
	}); err != nil {
		return err
	}

	if err := e.store.Enqueue(ctx, tx, ledger.TopicRecordTransferred, map[string]any{
		"ledger_id":   ledgerID,
		"key":         key,
		"actor":       caller.Principal,
		"beneficiary": newBeneficiary,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("custody: commit: %w", err)
	}
	return nil
}

// Void retires a record without payout. Owner-gated and irreversible; any
// custodied value stays held. Unlike the claim paths, void is administrative
// cleanup and so also reaches records whose time bound has lapsed.
func (e *Engine) Void(ctx context.Context, ledgerID string, caller identity.Caller, key, reason string) error {
	if err := e.auth.RequireOwner(ctx, ledgerID, caller.Principal); err != nil {
		return err
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("custody: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := e.store.GetForUpdate(ctx, tx, ledgerID, key)
	if err != nil {
		return err
	}
	if !ledger.ValidTransition(rec.Status, ledger.StatusVoided) {
		return ledger.ErrInvalidState
	}

	if err := e.store.MarkStatus(ctx, tx, ledgerID, key, rec.Status, ledger.StatusVoided); err != nil {
		return err
	}

	if err := e.store.AppendHistory(ctx, tx, ledger.HistoryEntry{
		LedgerID:  ledgerID,
		RecordKey: key,
		Actor:     caller.Principal,
		Reason:    "voided: " + reason,
	}); err != nil {
		return err
	}

	if err := e.store.Enqueue(ctx, tx, ledger.TopicRecordVoided, map[string]any{
		"ledger_id": ledgerID,
		"key":       key,
		"actor":     caller.Principal,
		"reason":    reason,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("custody: commit: %w", err)
	}
	return nil
}

// Redeem settles a monetary record and pays the caller. Authorization is
// either possession of the secret whose commitment equals the record key, or
// being the designated beneficiary. The balance is zeroed in the same guarded
// update that leaves the active state, strictly before the transfer runs; a
// transfer failure aborts the whole transaction.
func (e *Engine) Redeem(ctx context.Context, ledgerID string, caller identity.Caller, params RedeemParams) error {
	if caller.Principal == "" {
		return ledger.ErrUnauthorized
	}
	key := params.Key
	bySecret := params.Secret != ""
	if bySecret {
		key = Commitment(params.Secret)
	}
	if key == "" {
		return ledger.ErrInvalidInput
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("custody: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := e.store.GetForUpdate(ctx, tx, ledgerID, key)
	if err != nil {
		return err
	}
	if expired, err := e.expireIfDue(ctx, tx, rec); err != nil {
		return err
	} else if expired {
		return ledger.ErrExpired
	}
	if rec.Status != ledger.StatusActive || rec.Value <= 0 {
		return ledger.ErrInvalidState
	}
	if bySecret {
		// The preimage is the credential, but only hash-locked records accept it.
		if rec.Kind != ledger.KindGiftCard {
			return ledger.ErrUnauthorized
		}
	} else if rec.Beneficiary != caller.Principal {
		return ledger.ErrUnauthorized
	}

	if err := e.settleAndPay(ctx, tx, rec, caller.Principal, ledger.StatusRedeemed, redeemTopic(rec.Kind), "redeemed", params.Message); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("custody: commit: %w", err)
	}
	return nil
}

// Cancel settles a monetary record back to its original depositor, with the
// same zero-then-transfer ordering as Redeem.
func (e *Engine) Cancel(ctx context.Context, ledgerID string, caller identity.Caller, params RedeemParams) error {
	key := params.Key
	if params.Secret != "" {
		key = Commitment(params.Secret)
	}
	if key == "" {
		return ledger.ErrInvalidInput
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("custody: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := e.store.GetForUpdate(ctx, tx, ledgerID, key)
	if err != nil {
		return err
	}
	if expired, err := e.expireIfDue(ctx, tx, rec); err != nil {
		return err
	} else if expired {
		return ledger.ErrExpired
	}
	if rec.Status != ledger.StatusActive || rec.Value <= 0 {
		return ledger.ErrInvalidState
	}
	if rec.Depositor != caller.Principal {
		return ledger.ErrUnauthorized
	}

	if err := e.settleAndPay(ctx, tx, rec, rec.Depositor, ledger.StatusCancelled, ledger.TopicRecordCancelled, "cancelled", ""); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("custody: commit: %w", err)
	}
	return nil
}

// Admit records an RSVP against an event. The event row lock serializes
// admissions, so the capacity count cannot race; the deposit must match the
// event price exactly and is custodied before the attendee record exists.
func (e *Engine) Admit(ctx context.Context, ledgerID string, caller identity.Caller, eventKey string) (ledger.Record, error) {
	if caller.Principal == "" {
		return ledger.Record{}, ledger.ErrUnauthorized
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("custody: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	event, err := e.store.GetForUpdate(ctx, tx, ledgerID, eventKey)
	if err != nil {
		return ledger.Record{}, err
	}
	if event.Kind != ledger.KindEvent {
		return ledger.Record{}, ledger.ErrInvalidState
	}
	if expired, err := e.expireIfDue(ctx, tx, event); err != nil {
		return ledger.Record{}, err
	} else if expired {
		return ledger.Record{}, ledger.ErrExpired
	}
	if event.Status != ledger.StatusActive {
		return ledger.Record{}, ledger.ErrInvalidState
	}
	if caller.AttachedValue != event.Price {
		return ledger.Record{}, fmt.Errorf("custody: deposit must equal event price %d: %w", event.Price, ledger.ErrInvalidInput)
	}

	admitted, err := e.store.CountAdmitted(ctx, tx, ledgerID, eventKey)
	if err != nil {
		return ledger.Record{}, err
	}
	if admitted >= event.Capacity {
		return ledger.Record{}, ledger.ErrCapacityExceeded
	}

	if caller.AttachedValue > 0 {
		if err := e.transferor.Transfer(ctx, tx, caller.Principal, disburse.CustodyAccount(ledgerID), caller.AttachedValue); err != nil {
			return ledger.Record{}, fmt.Errorf("custody: custody deposit: %w: %v", ledger.ErrTransferFailed, err)
		}
	}

	rec, err := e.store.Insert(ctx, tx, ledger.Record{
		ID:          e.idGen(),
		LedgerID:    ledgerID,
		Key:         AttendeeKey(eventKey, caller.Principal),
		Kind:        ledger.KindRSVP,
		Value:       caller.AttachedValue,
		Depositor:   caller.Principal,
		Beneficiary: caller.Principal,
		ParentKey:   eventKey,
	})
	if err != nil {
		return ledger.Record{}, err
	}

	if err := e.store.AppendHistory(ctx, tx, ledger.HistoryEntry{
		LedgerID:     ledgerID,
		RecordKey:    rec.Key,
		Actor:        caller.Principal,
		Counterparty: eventKey,
		Amount:       rec.Value,
		Reason:       "rsvp",
	}); err != nil {
		return ledger.Record{}, err
	}

	if err := e.store.Enqueue(ctx, tx, ledger.TopicRecordCreated, map[string]any{
		"ledger_id": ledgerID,
		"key":       rec.Key,
		"kind":      rec.Kind,
		"actor":     caller.Principal,
		"event":     eventKey,
		"amount":    rec.Value,
	}); err != nil {
		return ledger.Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ledger.Record{}, fmt.Errorf("custody: commit: %w", err)
	}
	return rec, nil
}

// CheckIn refunds an RSVP'd, not-yet-checked-in attendee their exact deposit.
// Organizer-gated. The check-in flag is tested and set as the first effect, so
// a second check-in fails before anything else happens. Deliberately not
// bounded by the event's expiry: settling refunds for a finished event must
// stay possible.
func (e *Engine) CheckIn(ctx context.Context, ledgerID string, caller identity.Caller, eventKey, attendee string) error {
	if err := e.auth.RequireOwner(ctx, ledgerID, caller.Principal); err != nil {
		return err
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("custody: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := e.store.GetForUpdate(ctx, tx, ledgerID, AttendeeKey(eventKey, attendee))
	if err != nil {
		return err
	}
	if rec.Kind != ledger.KindRSVP {
		return ledger.ErrInvalidState
	}
	if rec.CheckedIn || rec.Status != ledger.StatusActive {
		return ledger.ErrInvalidState
	}

	if err := e.store.MarkCheckedIn(ctx, tx, ledgerID, rec.Key); err != nil {
		return err
	}

	if err := e.settleAndPay(ctx, tx, rec, attendee, ledger.StatusRedeemed, ledger.TopicRecordCheckedIn, "checked in", ""); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("custody: commit: %w", err)
	}
	return nil
}

// Inspect returns the read-only projection of a record. Expiry is reported as
// of the read without writing the lazy transition back.
func (e *Engine) Inspect(ctx context.Context, ledgerID, key string) (RecordView, error) {
	rec, err := e.store.Get(ctx, ledgerID, key)
	if err != nil {
		return RecordView{}, err
	}

	status := string(rec.Status)
	valid := rec.Status == ledger.StatusActive
	if valid && rec.ExpiresAt != nil && !e.now().Before(*rec.ExpiresAt) {
		valid = false
		status = string(ledger.StatusExpired)
	}

	return RecordView{
		Key:         rec.Key,
		Kind:        rec.Kind,
		Valid:       valid,
		Status:      status,
		Beneficiary: rec.Beneficiary,
		Value:       rec.Value,
		ExpiresAt:   rec.ExpiresAt,
		Payload:     rec.Payload,
	}, nil
}

// RecentHistory returns the last min(n, len) audit entries, most recent first.
func (e *Engine) RecentHistory(ctx context.Context, ledgerID string, n int) ([]ledger.HistoryEntry, error) {
	return e.store.Recent(ctx, ledgerID, n)
}

// ListRecords returns one page of a ledger's records plus the total count.
func (e *Engine) ListRecords(ctx context.Context, ledgerID string, filters ledger.ListFilters) ([]ledger.Record, int, error) {
	return e.store.List(ctx, ledgerID, filters)
}

// AttendeeKey derives the record key for one principal's RSVP to an event.
func AttendeeKey(eventKey, principal string) string {
	return eventKey + "/" + principal
}

// settleAndPay is the effects-then-interaction tail shared by every payout
// path: zero the balance under the status guard, append history, enqueue the
// event, and only then invoke the transfer substrate. Any failure unwinds the
// whole transaction through the caller's deferred rollback.
func (e *Engine) settleAndPay(ctx context.Context, tx pgx.Tx, rec ledger.Record, recipient string, to ledger.Status, topic, reason, message string) error {
	if err := e.store.Settle(ctx, tx, rec.LedgerID, rec.Key, to); err != nil {
		return err
	}

	if message != "" {
		reason = reason + ": " + message
	}
	if err := e.store.AppendHistory(ctx, tx, ledger.HistoryEntry{
		LedgerID:     rec.LedgerID,
		RecordKey:    rec.Key,
		Actor:        recipient,
		Counterparty: rec.Depositor,
		Amount:       rec.Value,
		Reason:       reason,
	}); err != nil {
		return err
	}

	if err := e.store.Enqueue(ctx, tx, topic, map[string]any{
		"ledger_id": rec.LedgerID,
		"key":       rec.Key,
		"recipient": recipient,
		"amount":    rec.Value,
	}); err != nil {
		return err
	}

	if err := e.transferor.Transfer(ctx, tx, disburse.CustodyAccount(rec.LedgerID), recipient, rec.Value); err != nil {
		return fmt.Errorf("custody: payout: %w: %v", ledger.ErrTransferFailed, err)
	}
	return nil
}

// expireIfDue applies the lazy expiry transition. Callers check expiry first,
// before any effect of their own, so when the time bound has passed the
// transaction holds nothing but the expiry flip; it is committed here and the
// triggering operation fails with Expired.
func (e *Engine) expireIfDue(ctx context.Context, tx pgx.Tx, rec ledger.Record) (bool, error) {
	if rec.Status != ledger.StatusActive || rec.ExpiresAt == nil || e.now().Before(*rec.ExpiresAt) {
		return false, nil
	}

	if err := e.store.MarkStatus(ctx, tx, rec.LedgerID, rec.Key, ledger.StatusActive, ledger.StatusExpired); err != nil {
		return false, err
	}
	if err := e.store.AppendHistory(ctx, tx, ledger.HistoryEntry{
		LedgerID:  rec.LedgerID,
		RecordKey: rec.Key,
		Reason:    "expired",
	}); err != nil {
		return false, err
	}
	if err := e.store.Enqueue(ctx, tx, ledger.TopicRecordExpired, map[string]any{
		"ledger_id": rec.LedgerID,
		"key":       rec.Key,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("custody: commit expiry: %w", err)
	}
	return true, nil
}

func redeemTopic(kind ledger.Kind) string {
	if kind == ledger.KindTreasury {
		return ledger.TopicFundsWithdrawn
	}
	return ledger.TopicRecordRedeemed
}
