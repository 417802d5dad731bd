package custody

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"custodia/identity"
	"custodia/ledger"
)

const testLedger = "ledger-1"

func newEngine(store *fakeStore, auth *fakeAuth, transferor *fakeTransferor) (*Engine, *fakePool) {
	pool := &fakePool{}
	eng := NewEngine(pool, store, auth, transferor).
		WithIDGenerator(func() string { return "rec-1" })
	return eng, pool
}

func TestCreateOwnerGate(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuth{owner: "alice"}
	eng, pool := newEngine(store, auth, &fakeTransferor{})

	_, err := eng.Create(context.Background(), testLedger, identity.Caller{Principal: "mallory"}, CreateParams{
		Key:         "serial-1",
		Kind:        ledger.KindWarranty,
		Beneficiary: "bob",
	})
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(store.records) != 0 {
		t.Errorf("unauthorized create mutated state")
	}
	if len(pool.txs) != 0 {
		t.Errorf("expected no transaction before authorization")
	}
}

func TestCreateDuplicateKey(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuth{owner: "alice"}
	eng, _ := newEngine(store, auth, &fakeTransferor{})

	params := CreateParams{Key: "serial-1", Kind: ledger.KindWarranty, Beneficiary: "bob", TTL: 24 * time.Hour}
	if _, err := eng.Create(context.Background(), testLedger, identity.Caller{Principal: "alice"}, params); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := eng.Create(context.Background(), testLedger, identity.Caller{Principal: "alice"}, params)
	if !errors.Is(err, ledger.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	store := newFakeStore()
	auth := &fakeAuth{owner: "alice"}
	eng, _ := newEngine(store, auth, &fakeTransferor{})
	owner := identity.Caller{Principal: "alice"}

	cases := []struct {
		name   string
		caller identity.Caller
		params CreateParams
	}{
		{"empty key", owner, CreateParams{Kind: ledger.KindWarranty, Beneficiary: "bob"}},
		{"empty beneficiary", owner, CreateParams{Key: "k", Kind: ledger.KindWarranty}},
		{"zero capacity event", owner, CreateParams{Key: "k", Kind: ledger.KindEvent, Price: 10}},
		{"free event", owner, CreateParams{Key: "k", Kind: ledger.KindEvent, Capacity: 5}},
		{"gift card without deposit", identity.Caller{Principal: "carol"}, CreateParams{Key: "k", Kind: ledger.KindGiftCard}},
		{"negative ttl", owner, CreateParams{Key: "k", Kind: ledger.KindWarranty, Beneficiary: "bob", TTL: -time.Hour}},
	}
	for _, tc := range cases {
		if _, err := eng.Create(context.Background(), testLedger, tc.caller, tc.params); !errors.Is(err, ledger.ErrInvalidInput) {
			t.Errorf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestRedeemEffectsBeforeInteraction(t *testing.T) {
	store := newFakeStore()
	transferor := &fakeTransferor{store: store}
	eng, pool := newEngine(store, &fakeAuth{owner: "alice"}, transferor)

	secret := "open sesame"
	card, err := eng.Create(context.Background(), testLedger,
		identity.Caller{Principal: "carol", AttachedValue: 100},
		CreateParams{Key: Commitment(secret), Kind: ledger.KindGiftCard})
	if err != nil {
		t.Fatalf("issue card: %v", err)
	}

	store.calls = nil
	if err := eng.Redeem(context.Background(), testLedger, identity.Caller{Principal: "dave"}, RedeemParams{Secret: secret}); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	settleIdx, transferIdx := -1, -1
	for i, call := range store.calls {
		if call == "settle" {
			settleIdx = i
		}
	}
	for i, tr := range transferor.transfers {
		if tr.to == "dave" {
			transferIdx = i
		}
	}
	if settleIdx < 0 {
		t.Fatalf("expected settle call, got %v", store.calls)
	}
	if transferIdx < 0 {
		t.Fatalf("expected payout transfer, got %v", transferor.transfers)
	}
	if transferor.transfers[transferIdx].settled != true {
		t.Errorf("payout ran before the balance was zeroed")
	}
	if got := store.records[card.Key]; got.Status != ledger.StatusRedeemed || got.Value != 0 {
		t.Errorf("expected redeemed zero-value record, got %+v", got)
	}
	if !pool.last().committed {
		t.Errorf("expected commit")
	}
}

func TestRedeemTransferFailureAborts(t *testing.T) {
	store := newFakeStore()
	transferor := &fakeTransferor{}
	eng, pool := newEngine(store, &fakeAuth{owner: "alice"}, transferor)

	secret := "open sesame"
	if _, err := eng.Create(context.Background(), testLedger,
		identity.Caller{Principal: "carol", AttachedValue: 100},
		CreateParams{Key: Commitment(secret), Kind: ledger.KindGiftCard}); err != nil {
		t.Fatalf("issue card: %v", err)
	}

	transferor.err = errors.New("substrate down")
	err := eng.Redeem(context.Background(), testLedger, identity.Caller{Principal: "dave"}, RedeemParams{Secret: secret})
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	tx := pool.last()
	if tx.committed {
		t.Errorf("expected transaction not to commit after transfer failure")
	}
	if !tx.rolled {
		t.Errorf("expected rollback after transfer failure")
	}
}

func TestRedeemTwiceFails(t *testing.T) {
	store := newFakeStore()
	eng, _ := newEngine(store, &fakeAuth{owner: "alice"}, &fakeTransferor{})

	secret := "open sesame"
	if _, err := eng.Create(context.Background(), testLedger,
		identity.Caller{Principal: "carol", AttachedValue: 100},
		CreateParams{Key: Commitment(secret), Kind: ledger.KindGiftCard}); err != nil {
		t.Fatalf("issue card: %v", err)
	}

	if err := eng.Redeem(context.Background(), testLedger, identity.Caller{Principal: "dave"}, RedeemParams{Secret: secret}); err != nil {
		t.Fatalf("first redeem: %v", err)
	}
	err := eng.Redeem(context.Background(), testLedger, identity.Caller{Principal: "dave"}, RedeemParams{Secret: secret})
	if !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second redeem, got %v", err)
	}
}

func TestRedeemWrongSecretIsNotFound(t *testing.T) {
	store := newFakeStore()
	eng, _ := newEngine(store, &fakeAuth{owner: "alice"}, &fakeTransferor{})

	if _, err := eng.Create(context.Background(), testLedger,
		identity.Caller{Principal: "carol", AttachedValue: 100},
		CreateParams{Key: Commitment("right"), Kind: ledger.KindGiftCard}); err != nil {
		t.Fatalf("issue card: %v", err)
	}

	err := eng.Redeem(context.Background(), testLedger, identity.Caller{Principal: "dave"}, RedeemParams{Secret: "wrong"})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong secret, got %v", err)
	}
}

func TestRedeemNonBeneficiaryUnauthorized(t *testing.T) {
	store := newFakeStore()
	eng, _ := newEngine(store, &fakeAuth{owner: "alice", members: map[string]bool{"carol": true}}, &fakeTransferor{})

	if _, err := eng.Create(context.Background(), testLedger,
		identity.Caller{Principal: "carol", AttachedValue: 50},
		CreateParams{Key: "deposit-1", Kind: ledger.KindTreasury}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	err := eng.Redeem(context.Background(), testLedger, identity.Caller{Principal: "mallory"}, RedeemParams{Key: "deposit-1"})
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if rec := store.records["deposit-1"]; rec.Status != ledger.StatusActive || rec.Value != 50 {
		t.Errorf("unauthorized redeem mutated record: %+v", rec)
	}
}

func TestRedeemAnonymousCallerUnauthorized(t *testing.T) {
	store := newFakeStore()
	transferor := &fakeTransferor{}
	eng, _ := newEngine(store, &fakeAuth{owner: "alice"}, transferor)

	secret := "open sesame"
	if _, err := eng.Create(context.Background(), testLedger,
		identity.Caller{Principal: "carol", AttachedValue: 100},
		CreateParams{Key: Commitment(secret), Kind: ledger.KindGiftCard}); err != nil {
		t.Fatalf("issue card: %v", err)
	}
	deposits := len(transferor.transfers)

	// The secret alone is not enough: payout needs a principal to pay.
	err := eng.Redeem(context.Background(), testLedger, identity.Caller{}, RedeemParams{Secret: secret})
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if rec := store.records[Commitment(secret)]; rec.Status != ledger.StatusActive || rec.Value != 100 {
		t.Errorf("anonymous redeem mutated record: %+v", rec)
	}
	if len(transferor.transfers) != deposits {
		t.Errorf("anonymous redeem moved funds: %v", transferor.transfers)
	}
}

func TestTransferExpiryBoundary(t *testing.T) {
	store := newFakeStore()
	eng, _ := newEngine(store, &fakeAuth{owner: "alice"}, &fakeTransferor{})

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	eng.WithClock(func() time.Time { return now })

	if _, err := eng.Create(context.Background(), testLedger, identity.Caller{Principal: "alice"}, CreateParams{
		Key:         "serial-1",
		Kind:        ledger.KindWarranty,
		Beneficiary: "bob",
		TTL:         365 * 24 * time.Hour,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	expiry := start.Add(365 * 24 * time.Hour)

	// One second before the bound the transfer still succeeds.
	now = expiry.Add(-time.Second)
	if err := eng.Transfer(context.Background(), testLedger, identity.Caller{Principal: "bob"}, "serial-1", "carol"); err != nil {
		t.Fatalf("transfer before expiry: %v", err)
	}

	// At the bound it fails and the lazy transition is written.
	now = expiry
	err := eng.Transfer(context.Background(), testLedger, identity.Caller{Principal: "carol"}, "serial-1", "dave")
	if !errors.Is(err, ledger.ErrExpired) {
		t.Fatalf("expected ErrExpired at boundary, got %v", err)
	}
	if got := store.records["serial-1"]; got.Status != ledger.StatusExpired {
		t.Errorf("expected lazy expired status, got %q", got.Status)
	}
	if got := store.records["serial-1"]; got.Beneficiary != "carol" {
		t.Errorf("expired transfer mutated beneficiary to %q", got.Beneficiary)
	}
}

func TestTransferBeneficiaryGate(t *testing.T) {
	store := newFakeStore()
	eng, _ := newEngine(store, &fakeAuth{owner: "alice"}, &fakeTransferor{})

	if _, err := eng.Create(context.Background(), testLedger, identity.Caller{Principal: "alice"}, CreateParams{
		Key: "item-1", Kind: ledger.KindGift, Beneficiary: "bob",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := eng.Transfer(context.Background(), testLedger, identity.Caller{Principal: "mallory"}, "item-1", "mallory")
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := eng.Transfer(context.Background(), testLedger, identity.Caller{Principal: "bob"}, "item-1", ""); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty beneficiary, got %v", err)
	}
}

func TestVoidKeepsValue(t *testing.T) {
	store := newFakeStore()
	eng, _ := newEngine(store, &fakeAuth{owner: "alice", members: map[string]bool{"carol": true}}, &fakeTransferor{})

	if _, err := eng.Create(context.Background(), testLedger,
		identity.Caller{Principal: "carol", AttachedValue: 75},
		CreateParams{Key: "deposit-1", Kind: ledger.KindTreasury}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if err := eng.Void(context.Background(), testLedger, identity.Caller{Principal: "bob"}, "deposit-1", "tamper"); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-owner void, got %v", err)
	}
	if err := eng.Void(context.Background(), testLedger, identity.Caller{Principal: "alice"}, "deposit-1", "tamper"); err != nil {
		t.Fatalf("void: %v", err)
	}

	rec := store.records["deposit-1"]
	if rec.Status != ledger.StatusVoided {
		t.Errorf("expected voided, got %q", rec.Status)
	}
	if rec.Value != 75 {
		t.Errorf("void must not disburse: value %d", rec.Value)
	}
	if err := eng.Void(context.Background(), testLedger, identity.Caller{Principal: "alice"}, "deposit-1", "again"); !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double void, got %v", err)
	}
}

func TestAdmitCapacityAndDeposit(t *testing.T) {
	store := newFakeStore()
	transferor := &fakeTransferor{}
	eng, _ := newEngine(store, &fakeAuth{owner: "org"}, transferor)
	n := 0
	eng.WithIDGenerator(func() string { n++; return fmt.Sprintf("rec-%d", n) })

	if _, err := eng.Create(context.Background(), testLedger, identity.Caller{Principal: "org"}, CreateParams{
		Key: "meetup", Kind: ledger.KindEvent, Capacity: 2, Price: 10,
	}); err != nil {
		t.Fatalf("create event: %v", err)
	}

	if _, err := eng.Admit(context.Background(), testLedger, identity.Caller{Principal: "p1", AttachedValue: 5}, "meetup"); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for wrong deposit, got %v", err)
	}

	for _, p := range []string{"p1", "p2"} {
		if _, err := eng.Admit(context.Background(), testLedger, identity.Caller{Principal: p, AttachedValue: 10}, "meetup"); err != nil {
			t.Fatalf("admit %s: %v", p, err)
		}
	}
	_, err := eng.Admit(context.Background(), testLedger, identity.Caller{Principal: "p3", AttachedValue: 10}, "meetup")
	if !errors.Is(err, ledger.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestCancelledSeatFreesCapacity(t *testing.T) {
	store := newFakeStore()
	eng, _ := newEngine(store, &fakeAuth{owner: "org"}, &fakeTransferor{})
	n := 0
	eng.WithIDGenerator(func() string { n++; return fmt.Sprintf("rec-%d", n) })

	if _, err := eng.Create(context.Background(), testLedger, identity.Caller{Principal: "org"}, CreateParams{
		Key: "meetup", Kind: ledger.KindEvent, Capacity: 1, Price: 10,
	}); err != nil {
		t.Fatalf("create event: %v", err)
	}

	if _, err := eng.Admit(context.Background(), testLedger, identity.Caller{Principal: "p1", AttachedValue: 10}, "meetup"); err != nil {
		t.Fatalf("admit p1: %v", err)
	}
	if _, err := eng.Admit(context.Background(), testLedger, identity.Caller{Principal: "p2", AttachedValue: 10}, "meetup"); !errors.Is(err, ledger.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded while seat held, got %v", err)
	}

	// Surrendering the seat refunds the deposit and reopens the slot.
	if err := eng.Cancel(context.Background(), testLedger, identity.Caller{Principal: "p1"}, RedeemParams{Key: AttendeeKey("meetup", "p1")}); err != nil {
		t.Fatalf("cancel rsvp: %v", err)
	}
	if _, err := eng.Admit(context.Background(), testLedger, identity.Caller{Principal: "p2", AttachedValue: 10}, "meetup"); err != nil {
		t.Fatalf("admit p2 after cancellation: %v", err)
	}

	// Exactly one slot was freed; the refilled event is full again.
	if _, err := eng.Admit(context.Background(), testLedger, identity.Caller{Principal: "p3", AttachedValue: 10}, "meetup"); !errors.Is(err, ledger.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded with seat refilled, got %v", err)
	}
}

func TestCheckInRefundsOnce(t *testing.T) {
	store := newFakeStore()
	transferor := &fakeTransferor{}
	eng, _ := newEngine(store, &fakeAuth{owner: "org"}, transferor)
	n := 0
	eng.WithIDGenerator(func() string { n++; return fmt.Sprintf("rec-%d", n) })

	if _, err := eng.Create(context.Background(), testLedger, identity.Caller{Principal: "org"}, CreateParams{
		Key: "meetup", Kind: ledger.KindEvent, Capacity: 2, Price: 10,
	}); err != nil {
		t.Fatalf("create event: %v", err)
	}
	if _, err := eng.Admit(context.Background(), testLedger, identity.Caller{Principal: "p1", AttachedValue: 10}, "meetup"); err != nil {
		t.Fatalf("admit: %v", err)
	}

	if err := eng.CheckIn(context.Background(), testLedger, identity.Caller{Principal: "p1"}, "meetup", "p1"); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-organizer, got %v", err)
	}

	if err := eng.CheckIn(context.Background(), testLedger, identity.Caller{Principal: "org"}, "meetup", "p1"); err != nil {
		t.Fatalf("check in: %v", err)
	}
	refunds := 0
	for _, tr := range transferor.transfers {
		if tr.to == "p1" && tr.amount == 10 {
			refunds++
		}
	}
	if refunds != 1 {
		t.Fatalf("expected exactly one refund, got %d", refunds)
	}

	err := eng.CheckIn(context.Background(), testLedger, identity.Caller{Principal: "org"}, "meetup", "p1")
	if !errors.Is(err, ledger.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double check-in, got %v", err)
	}
}

func TestInspectReportsExpiryWithoutWrite(t *testing.T) {
	store := newFakeStore()
	eng, _ := newEngine(store, &fakeAuth{owner: "alice"}, &fakeTransferor{})

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := start
	eng.WithClock(func() time.Time { return now })

	if _, err := eng.Create(context.Background(), testLedger, identity.Caller{Principal: "alice"}, CreateParams{
		Key: "serial-1", Kind: ledger.KindWarranty, Beneficiary: "bob", TTL: time.Hour, Payload: "model X",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	view, err := eng.Inspect(context.Background(), testLedger, "serial-1")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !view.Valid || view.Status != "active" || view.Payload != "model X" {
		t.Errorf("unexpected view %+v", view)
	}

	now = start.Add(2 * time.Hour)
	view, err = eng.Inspect(context.Background(), testLedger, "serial-1")
	if err != nil {
		t.Fatalf("inspect after expiry: %v", err)
	}
	if view.Valid || view.Status != "expired" {
		t.Errorf("expected invalid expired view, got %+v", view)
	}
	// The stored record is untouched until a transition touches the key.
	if store.records["serial-1"].Status != ledger.StatusActive {
		t.Errorf("inspect must not write the lazy expiry")
	}

	if _, err := eng.Inspect(context.Background(), testLedger, "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// fakes

type transferCall struct {
	from, to string
	amount   int64
	// settled records whether the balance had already been zeroed when the
	// transfer ran, which is the ordering the engine must guarantee.
	settled bool
}

type fakeTransferor struct {
	err       error
	transfers []transferCall
	store     *fakeStore
}

func (f *fakeTransferor) Transfer(_ context.Context, _ pgx.Tx, from, to string, amount int64) error {
	if f.err != nil {
		return f.err
	}
	settled := false
	if f.store != nil {
		settled = f.store.lastSettled
	}
	f.transfers = append(f.transfers, transferCall{from: from, to: to, amount: amount, settled: settled})
	return nil
}

type fakeStore struct {
	records     map[string]*ledger.Record
	history     []ledger.HistoryEntry
	topics      []string
	calls       []string
	lastSettled bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]*ledger.Record{}}
}

func (f *fakeStore) Get(_ context.Context, _, key string) (ledger.Record, error) {
	rec, ok := f.records[key]
	if !ok {
		return ledger.Record{}, ledger.ErrNotFound
	}
	return *rec, nil
}

func (f *fakeStore) GetForUpdate(_ context.Context, _ pgx.Tx, _, key string) (ledger.Record, error) {
	rec, ok := f.records[key]
	if !ok {
		return ledger.Record{}, ledger.ErrNotFound
	}
	return *rec, nil
}

func (f *fakeStore) Insert(_ context.Context, _ pgx.Tx, rec ledger.Record) (ledger.Record, error) {
	if _, ok := f.records[rec.Key]; ok {
		return ledger.Record{}, ledger.ErrAlreadyExists
	}
	rec.Status = ledger.StatusActive
	f.records[rec.Key] = &rec
	f.calls = append(f.calls, "insert")
	return rec, nil
}

func (f *fakeStore) SetBeneficiary(_ context.Context, _ pgx.Tx, _, key, beneficiary string) error {
	rec, ok := f.records[key]
	if !ok || rec.Status != ledger.StatusActive {
		return ledger.ErrInvalidState
	}
	rec.Beneficiary = beneficiary
	f.calls = append(f.calls, "set_beneficiary")
	return nil
}

func (f *fakeStore) MarkStatus(_ context.Context, _ pgx.Tx, _, key string, from, to ledger.Status) error {
	rec, ok := f.records[key]
	if !ok || rec.Status != from {
		return ledger.ErrInvalidState
	}
	rec.Status = to
	f.calls = append(f.calls, "mark_status")
	return nil
}

func (f *fakeStore) Settle(_ context.Context, _ pgx.Tx, _, key string, to ledger.Status) error {
	rec, ok := f.records[key]
	if !ok || rec.Status != ledger.StatusActive || rec.Value <= 0 {
		return ledger.ErrInvalidState
	}
	rec.Status = to
	rec.Value = 0
	f.calls = append(f.calls, "settle")
	f.lastSettled = true
	return nil
}

func (f *fakeStore) MarkCheckedIn(_ context.Context, _ pgx.Tx, _, key string) error {
	rec, ok := f.records[key]
	if !ok || rec.CheckedIn {
		return ledger.ErrInvalidState
	}
	rec.CheckedIn = true
	f.calls = append(f.calls, "mark_checked_in")
	return nil
}

func (f *fakeStore) CountAdmitted(_ context.Context, _ pgx.Tx, _, parentKey string) (int, error) {
	n := 0
	for _, rec := range f.records {
		if rec.ParentKey == parentKey && rec.Status != ledger.StatusVoided && rec.Status != ledger.StatusCancelled {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AppendHistory(_ context.Context, _ pgx.Tx, entry ledger.HistoryEntry) error {
	f.history = append(f.history, entry)
	f.calls = append(f.calls, "history")
	return nil
}

func (f *fakeStore) Recent(_ context.Context, _ string, n int) ([]ledger.HistoryEntry, error) {
	if n > len(f.history) {
		n = len(f.history)
	}
	out := make([]ledger.HistoryEntry, 0, n)
	for i := len(f.history) - 1; i >= len(f.history)-n; i-- {
		out = append(out, f.history[i])
	}
	return out, nil
}

func (f *fakeStore) List(_ context.Context, _ string, filters ledger.ListFilters) ([]ledger.Record, int, error) {
	out := []ledger.Record{}
	for _, rec := range f.records {
		if filters.Kind != "" && rec.Kind != filters.Kind {
			continue
		}
		out = append(out, *rec)
	}
	return out, len(out), nil
}

func (f *fakeStore) Enqueue(_ context.Context, _ pgx.Tx, topic string, _ map[string]any) error {
	f.topics = append(f.topics, topic)
	f.calls = append(f.calls, "enqueue")
	return nil
}

type fakeAuth struct {
	owner   string
	members map[string]bool
}

func (f *fakeAuth) RequireOwner(_ context.Context, _, callerID string) error {
	if callerID != f.owner {
		return ledger.ErrUnauthorized
	}
	return nil
}

func (f *fakeAuth) IsMember(_ context.Context, _, principalID string) (bool, error) {
	if principalID == f.owner {
		return true, nil
	}
	return f.members[principalID], nil
}

type fakePool struct {
	txs []*fakeTx
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakePool) last() *fakeTx {
	if len(f.txs) == 0 {
		return &fakeTx{}
	}
	return f.txs[len(f.txs)-1]
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
