// Package giftcard is the hash-locked gift-card façade: anyone may deposit
// value behind a secret commitment, and whoever later presents the preimage
// collects it exactly once.
package giftcard

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
	Redeem(ctx context.Context, ledgerID string, caller identity.Caller, params custody.RedeemParams) error
	Cancel(ctx context.Context, ledgerID string, caller identity.Caller, params custody.RedeemParams) error
	Inspect(ctx context.Context, ledgerID, key string) (custody.RecordView, error)
}

// Service issues and settles hash-locked cards on one ledger instance.
type Service struct {
	ledgerID string
	engine   Engine
}

func NewService(ledgerID string, engine Engine) *Service {
	return &Service{ledgerID: ledgerID, engine: engine}
}

// Issue custodies the value attached to the call behind the given commitment.
// The issuer keeps the secret off-ledger and hands it to the recipient; the
// engine only ever sees the hash.
func (s *Service) Issue(ctx context.Context, caller identity.Caller, commitment string, validFor time.Duration, note string) (ledger.Record, error) {
	return s.engine.Create(ctx, s.ledgerID, caller, custody.CreateParams{
		Key:     commitment,
		Kind:    ledger.KindGiftCard,
		TTL:     validFor,
		Payload: note,
	})
}

// Redeem pays the caller the card's full value against the correct secret.
func (s *Service) Redeem(ctx context.Context, caller identity.Caller, secret, message string) error {
	return s.engine.Redeem(ctx, s.ledgerID, caller, custody.RedeemParams{Secret: secret, Message: message})
}

// CancelByIssuer returns an unredeemed card's value to its depositor.
func (s *Service) CancelByIssuer(ctx context.Context, caller identity.Caller, commitment string) error {
	return s.engine.Cancel(ctx, s.ledgerID, caller, custody.RedeemParams{Key: commitment})
}

// Inspect reports whether a commitment still holds value, without revealing
// anything a card holder doesn't already know.
func (s *Service) Inspect(ctx context.Context, commitment string) (custody.RecordView, error) {
	return s.engine.Inspect(ctx, s.ledgerID, commitment)
}
