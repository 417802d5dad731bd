// Package warranty is the warranty-registry façade over the custody engine:
// owner-registered, non-monetary records keyed by serial number.
package warranty

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
	Transfer(ctx context.Context, ledgerID string, caller identity.Caller, key, newBeneficiary string) error
	Void(ctx context.Context, ledgerID string, caller identity.Caller, key, reason string) error
	Inspect(ctx context.Context, ledgerID, key string) (custody.RecordView, error)
	RecentHistory(ctx context.Context, ledgerID string, n int) ([]ledger.HistoryEntry, error)
}

// Service registers and tracks warranties on one ledger instance.
type Service struct {
	ledgerID string
	engine   Engine
}

func NewService(ledgerID string, engine Engine) *Service {
	return &Service{ledgerID: ledgerID, engine: engine}
}

// Register opens a warranty for a serial number. Registrar-gated (the ledger
// owner); the holder may later transfer it before expiry.
func (s *Service) Register(ctx context.Context, caller identity.Caller, serial, holder string, duration time.Duration, notes string) (ledger.Record, error) {
	return s.engine.Create(ctx, s.ledgerID, caller, custody.CreateParams{
		Key:         serial,
		Kind:        ledger.KindWarranty,
		Beneficiary: holder,
		TTL:         duration,
		Payload:     notes,
	})
}

// TransferHolder reassigns the warranty to a new holder.
func (s *Service) TransferHolder(ctx context.Context, caller identity.Caller, serial, newHolder string) error {
	return s.engine.Transfer(ctx, s.ledgerID, caller, serial, newHolder)
}

// Void permanently invalidates a warranty, e.g. on tampering.
func (s *Service) Void(ctx context.Context, caller identity.Caller, serial, reason string) error {
	return s.engine.Void(ctx, s.ledgerID, caller, serial, reason)
}

// Inspect reports validity, status, holder, and expiry for a serial number.
func (s *Service) Inspect(ctx context.Context, serial string) (custody.RecordView, error) {
	return s.engine.Inspect(ctx, s.ledgerID, serial)
}

// RecentHistory returns the last n audit entries for the registry.
func (s *Service) RecentHistory(ctx context.Context, n int) ([]ledger.HistoryEntry, error) {
	return s.engine.RecentHistory(ctx, s.ledgerID, n)
}
