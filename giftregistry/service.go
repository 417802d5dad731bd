// Package giftregistry is the gift-registry façade: owner-listed items that a
// recipient can claim or pass along to someone else.
package giftregistry

import (
	"context"

	"custodia/custody"
	"custodia/identity"
	"custodia/ledger"
)

// Engine is the subset of custody operations this façade uses.
type Engine interface {
	Create(ctx context.Context, ledgerID string, caller identity.Caller, params custody.CreateParams) (ledger.Record, error)
	Transfer(ctx context.Context, ledgerID string, caller identity.Caller, key, newBeneficiary string) error
	Void(ctx context.Context, ledgerID string, caller identity.Caller, key, reason string) error
	Inspect(ctx context.Context, ledgerID, key string) (custody.RecordView, error)
	RecentHistory(ctx context.Context, ledgerID string, n int) ([]ledger.HistoryEntry, error)
}

// Service manages gift items on one ledger instance.
type Service struct {
	ledgerID string
	engine   Engine
}

func NewService(ledgerID string, engine Engine) *Service {
	return &Service{ledgerID: ledgerID, engine: engine}
}

// AddItem lists a gift for a recipient. Owner-gated.
func (s *Service) AddItem(ctx context.Context, caller identity.Caller, itemID, recipient, description string) (ledger.Record, error) {
	return s.engine.Create(ctx, s.ledgerID, caller, custody.CreateParams{
		Key:         itemID,
		Kind:        ledger.KindGift,
		Beneficiary: recipient,
		Payload:     description,
	})
}

// Regift reassigns the item to a new recipient; only the current recipient may.
func (s *Service) Regift(ctx context.Context, caller identity.Caller, itemID, newRecipient string) error {
	return s.engine.Transfer(ctx, s.ledgerID, caller, itemID, newRecipient)
}

// Withdraw removes an item from the registry. Owner-gated.
func (s *Service) Withdraw(ctx context.Context, caller identity.Caller, itemID, reason string) error {
	return s.engine.Void(ctx, s.ledgerID, caller, itemID, reason)
}

// Inspect reports status and current recipient for an item.
func (s *Service) Inspect(ctx context.Context, itemID string) (custody.RecordView, error) {
	return s.engine.Inspect(ctx, s.ledgerID, itemID)
}

// RecentHistory returns the last n audit entries for the registry.
func (s *Service) RecentHistory(ctx context.Context, n int) ([]ledger.HistoryEntry, error) {
	return s.engine.RecentHistory(ctx, s.ledgerID, n)
}
