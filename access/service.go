package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"custodia/ledger"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Roster defines the data access required by the service.
type Roster interface {
	CreateLedger(ctx context.Context, name, ownerID string) (Ledger, error)
	GetOwnerForUpdate(ctx context.Context, tx pgx.Tx, ledgerID string) (string, error)
	GetOwner(ctx context.Context, ledgerID string) (string, error)
	SetOwner(ctx context.Context, tx pgx.Tx, ledgerID, newOwner string) error
	AddMember(ctx context.Context, tx pgx.Tx, ledgerID, principalID string) error
	RemoveMember(ctx context.Context, tx pgx.Tx, ledgerID, principalID string) error
	IsMember(ctx context.Context, ledgerID, principalID string) (bool, error)
}

// OutboxWriter emits membership events in the caller's transaction.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Service gates privileged operations behind the single-owner / member model.
// Authorization failures short-circuit before any state is touched.
type Service struct {
	pool   TxBeginner
	roster Roster
	outbox OutboxWriter
}

// NewService builds an access control service.
func NewService(pool TxBeginner, roster Roster, outbox OutboxWriter) *Service {
	return &Service{pool: pool, roster: roster, outbox: outbox}
}

// CreateLedger registers a fresh ledger instance owned by the caller.
func (s *Service) CreateLedger(ctx context.Context, ownerID, name string) (Ledger, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Ledger{}, fmt.Errorf("access: owner required: %w", ledger.ErrInvalidInput)
	}
	if strings.TrimSpace(name) == "" {
		return Ledger{}, fmt.Errorf("access: ledger name required: %w", ledger.ErrInvalidInput)
	}
	return s.roster.CreateLedger(ctx, name, ownerID)
}

// RequireOwner fails with Unauthorized unless the caller owns the ledger.
func (s *Service) RequireOwner(ctx context.Context, ledgerID, callerID string) error {
	owner, err := s.roster.GetOwner(ctx, ledgerID)
	if err != nil {
		return err
	}
	if owner != callerID {
		return ledger.ErrUnauthorized
	}
	return nil
}

// IsMember reports group privilege; the owner always qualifies.
func (s *Service) IsMember(ctx context.Context, ledgerID, principalID string) (bool, error) {
	owner, err := s.roster.GetOwner(ctx, ledgerID)
	if err != nil {
		return false, err
	}
	if owner == principalID {
		return true, nil
	}
	return s.roster.IsMember(ctx, ledgerID, principalID)
}

// TransferOwnership hands the ledger to a new owner. Only the current owner
// may transfer, and never to an empty principal.
func (s *Service) TransferOwnership(ctx context.Context, ledgerID, callerID, newOwner string) error {
	if strings.TrimSpace(newOwner) == "" {
		return fmt.Errorf("access: new owner required: %w", ledger.ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("access: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	owner, err := s.roster.GetOwnerForUpdate(ctx, tx, ledgerID)
	if err != nil {
		return err
	}
	if owner != callerID {
		return ledger.ErrUnauthorized
	}

	if err := s.roster.SetOwner(ctx, tx, ledgerID, newOwner); err != nil {
		return err
	}

	payload := map[string]any{
		"ledger_id": ledgerID,
		"previous":  owner,
		"owner":     newOwner,
	}
	if err := s.outbox.Enqueue(ctx, tx, ledger.TopicOwnerTransferred, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("access: commit: %w", err)
	}
	return nil
}

// AddMember grants group privilege. Owner-gated.
func (s *Service) AddMember(ctx context.Context, ledgerID, callerID, principalID string) error {
	return s.changeMembership(ctx, ledgerID, callerID, principalID, true)
}

// RemoveMember revokes group privilege. Owner-gated.
func (s *Service) RemoveMember(ctx context.Context, ledgerID, callerID, principalID string) error {
	return s.changeMembership(ctx, ledgerID, callerID, principalID, false)
}

func (s *Service) changeMembership(ctx context.Context, ledgerID, callerID, principalID string, add bool) error {
	if strings.TrimSpace(principalID) == "" {
		return fmt.Errorf("access: principal required: %w", ledger.ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("access: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	owner, err := s.roster.GetOwnerForUpdate(ctx, tx, ledgerID)
	if err != nil {
		return err
	}
	if owner != callerID {
		return ledger.ErrUnauthorized
	}

	topic := ledger.TopicMemberAdded
	if add {
		err = s.roster.AddMember(ctx, tx, ledgerID, principalID)
	} else {
		err = s.roster.RemoveMember(ctx, tx, ledgerID, principalID)
		topic = ledger.TopicMemberRemoved
	}
	if err != nil {
		return err
	}

	payload := map[string]any{
		"ledger_id": ledgerID,
		"principal": principalID,
		"actor":     callerID,
	}
	if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("access: commit: %w", err)
	}
	return nil
}
