// Package treasury is the shared-treasury façade: members deposit into a
// common pool, reclaim their own deposits, or withdraw ones assigned to them;
// the owner curates membership and can freeze a deposit.
package treasury

import (
	"context"

	"github.com/google/uuid"

	"custodia/custody"
	"custodia/identity"
	"custodia/ledger"
)

// Engine is the subset of custody operations this façade uses.
type Engine interface {
	Create(ctx context.Context, ledgerID string, caller identity.Caller, params custody.CreateParams) (ledger.Record, error)
	Transfer(ctx context.Context, ledgerID string, caller identity.Caller, key, newBeneficiary string) error
	Void(ctx context.Context, ledgerID string, caller identity.Caller, key, reason string) error
	Redeem(ctx context.Context, ledgerID string, caller identity.Caller, params custody.RedeemParams) error
	Cancel(ctx context.Context, ledgerID string, caller identity.Caller, params custody.RedeemParams) error
	RecentHistory(ctx context.Context, ledgerID string, n int) ([]ledger.HistoryEntry, error)
}

// Membership is the roster surface the façade re-exports.
type Membership interface {
	AddMember(ctx context.Context, ledgerID, callerID, principalID string) error
	RemoveMember(ctx context.Context, ledgerID, callerID, principalID string) error
	IsMember(ctx context.Context, ledgerID, principalID string) (bool, error)
}

// Service manages one shared treasury.
type Service struct {
	ledgerID   string
	engine     Engine
	membership Membership
	idGen      func() string
}

func NewService(ledgerID string, engine Engine, membership Membership) *Service {
	return &Service{
		ledgerID:   ledgerID,
		engine:     engine,
		membership: membership,
		idGen:      func() string { return uuid.NewString() },
	}
}

// WithIDGenerator overrides deposit key generation, for tests.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// Deposit custodies the attached value as a new member deposit and returns its
// key. Member-gated by the engine.
func (s *Service) Deposit(ctx context.Context, caller identity.Caller, memo string) (ledger.Record, error) {
	return s.engine.Create(ctx, s.ledgerID, caller, custody.CreateParams{
		Key:     s.idGen(),
		Kind:    ledger.KindTreasury,
		Payload: memo,
	})
}

// Assign hands a deposit's payout claim to another member.
func (s *Service) Assign(ctx context.Context, caller identity.Caller, depositKey, toPrincipal string) error {
	return s.engine.Transfer(ctx, s.ledgerID, caller, depositKey, toPrincipal)
}

// Withdraw pays the deposit out to its current claimant.
func (s *Service) Withdraw(ctx context.Context, caller identity.Caller, depositKey string) error {
	return s.engine.Redeem(ctx, s.ledgerID, caller, custody.RedeemParams{Key: depositKey})
}

// Reclaim returns a deposit to the member who made it.
func (s *Service) Reclaim(ctx context.Context, caller identity.Caller, depositKey string) error {
	return s.engine.Cancel(ctx, s.ledgerID, caller, custody.RedeemParams{Key: depositKey})
}

// Freeze voids a deposit without payout. Owner-gated.
func (s *Service) Freeze(ctx context.Context, caller identity.Caller, depositKey, reason string) error {
	return s.engine.Void(ctx, s.ledgerID, caller, depositKey, reason)
}

// AddMember grants deposit privilege. Owner-gated.
func (s *Service) AddMember(ctx context.Context, caller identity.Caller, principalID string) error {
	return s.membership.AddMember(ctx, s.ledgerID, caller.Principal, principalID)
}

// RemoveMember revokes deposit privilege. Owner-gated.
func (s *Service) RemoveMember(ctx context.Context, caller identity.Caller, principalID string) error {
	return s.membership.RemoveMember(ctx, s.ledgerID, caller.Principal, principalID)
}

// IsMember reports whether a principal may deposit.
func (s *Service) IsMember(ctx context.Context, principalID string) (bool, error) {
	return s.membership.IsMember(ctx, s.ledgerID, principalID)
}

// RecentHistory returns the last n audit entries for the treasury.
func (s *Service) RecentHistory(ctx context.Context, n int) ([]ledger.HistoryEntry, error) {
	return s.engine.RecentHistory(ctx, s.ledgerID, n)
}
