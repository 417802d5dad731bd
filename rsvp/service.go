// Package rsvp is the event-escrow façade: the organizer opens a capacity- and
// deposit-bounded event, attendees escrow the exact deposit to hold a seat,
// and check-in refunds it once.
package rsvp

import (
	"context"
	"time"

	"custodia/custody"
	"custodia/identity"
	"custodia/ledger"
)

// Engine is the subset of custody operations this façade uses.
type Engine interface {
	Create(ctx context.Context, ledgerID string, caller identity.Caller, params custody.CreateParams) (ledger.Record, error)
	Admit(ctx context.Context, ledgerID string, caller identity.Caller, eventKey string) (ledger.Record, error)
	CheckIn(ctx context.Context, ledgerID string, caller identity.Caller, eventKey, attendee string) error
	Cancel(ctx context.Context, ledgerID string, caller identity.Caller, params custody.RedeemParams) error
	Inspect(ctx context.Context, ledgerID, key string) (custody.RecordView, error)
	RecentHistory(ctx context.Context, ledgerID string, n int) ([]ledger.HistoryEntry, error)
}

// Service manages events on one ledger instance.
type Service struct {
	ledgerID string
	engine   Engine
}

func NewService(ledgerID string, engine Engine) *Service {
	return &Service{ledgerID: ledgerID, engine: engine}
}

// CreateEvent opens an event. Organizer-gated (the ledger owner); capacity
// must be positive and RSVPs close at the deadline.
func (s *Service) CreateEvent(ctx context.Context, caller identity.Caller, eventKey string, capacity int, deposit int64, closes time.Duration, details string) (ledger.Record, error) {
	return s.engine.Create(ctx, s.ledgerID, caller, custody.CreateParams{
		Key:      eventKey,
		Kind:     ledger.KindEvent,
		Capacity: capacity,
		Price:    deposit,
		TTL:      closes,
		Payload:  details,
	})
}

// RSVP escrows the exact deposit attached to the call and holds a seat.
func (s *Service) RSVP(ctx context.Context, caller identity.Caller, eventKey string) (ledger.Record, error) {
	return s.engine.Admit(ctx, s.ledgerID, caller, eventKey)
}

// CheckIn refunds an attendee's deposit exactly once. Organizer-gated, and
// deliberately possible after the RSVP deadline.
func (s *Service) CheckIn(ctx context.Context, caller identity.Caller, eventKey, attendee string) error {
	return s.engine.CheckIn(ctx, s.ledgerID, caller, eventKey, attendee)
}

// CancelRSVP lets an attendee take back their own deposit before check-in.
func (s *Service) CancelRSVP(ctx context.Context, caller identity.Caller, eventKey string) error {
	return s.engine.Cancel(ctx, s.ledgerID, caller, custody.RedeemParams{
		Key: custody.AttendeeKey(eventKey, caller.Principal),
	})
}

// Inspect reports an event's status and deadline.
func (s *Service) Inspect(ctx context.Context, eventKey string) (custody.RecordView, error) {
	return s.engine.Inspect(ctx, s.ledgerID, eventKey)
}

// RecentHistory returns the last n audit entries for the event ledger.
func (s *Service) RecentHistory(ctx context.Context, n int) ([]ledger.HistoryEntry, error) {
	return s.engine.RecentHistory(ctx, s.ledgerID, n)
}
