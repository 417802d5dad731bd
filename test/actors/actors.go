package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"custodia/custody"
	"custodia/identity"
	"custodia/ledger"
)

// expected reports whether an error is part of the engine's taxonomy and so
// anticipated under contention; anything else fails the run.
func expected(err error) bool {
	return errors.Is(err, ledger.ErrAlreadyExists) ||
		errors.Is(err, ledger.ErrNotFound) ||
		errors.Is(err, ledger.ErrInvalidState) ||
		errors.Is(err, ledger.ErrExpired) ||
		errors.Is(err, ledger.ErrCapacityExceeded) ||
		errors.Is(err, ledger.ErrUnauthorized) ||
		errors.Is(err, ledger.ErrTransferFailed)
}

// CardIssuer keeps issuing hash-locked cards for a fixed secret set, so the
// redeemers always have live targets. Reissuing a settled commitment hits the
// key-reuse guard and is expected to fail.
func CardIssuer(ctx context.Context, eng *custody.Engine, ledgerID, issuer string, secrets []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		secret := secrets[rand.Intn(len(secrets))]
		_, err := eng.Create(ctx, ledgerID, identity.Caller{Principal: issuer, AttachedValue: int64(1 + rand.Intn(5))}, custody.CreateParams{
			Key:  custody.Commitment(secret),
			Kind: ledger.KindGiftCard,
			TTL:  time.Hour,
		})
		if err != nil && !expected(err) {
			return fmt.Errorf("card issuer: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// CardRedeemer races other redeemers for the same secrets. At most one claim
// per issued card may pay out; every other attempt must fail cleanly.
func CardRedeemer(ctx context.Context, eng *custody.Engine, ledgerID, principal string, secrets []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		secret := secrets[rand.Intn(len(secrets))]
		err := eng.Redeem(ctx, ledgerID, identity.Caller{Principal: principal}, custody.RedeemParams{Secret: secret})
		if err != nil && !expected(err) {
			return fmt.Errorf("card redeemer: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// TreasuryDepositor deposits into the shared pool and occasionally reclaims
// one of its own deposits.
func TreasuryDepositor(ctx context.Context, eng *custody.Engine, ledgerID, member string, stop <-chan struct{}) error {
	var mine []string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if len(mine) > 0 && rand.Intn(3) == 0 {
			key := mine[rand.Intn(len(mine))]
			err := eng.Cancel(ctx, ledgerID, identity.Caller{Principal: member}, custody.RedeemParams{Key: key})
			if err != nil && !expected(err) {
				return fmt.Errorf("treasury reclaim: %w", err)
			}
		} else {
			rec, err := eng.Create(ctx, ledgerID, identity.Caller{Principal: member, AttachedValue: int64(1 + rand.Intn(3))}, custody.CreateParams{
				Kind:    ledger.KindTreasury,
				Key:     fmt.Sprintf("%s-%d", member, rand.Int63()),
				Payload: "stress deposit",
			})
			if err != nil && !expected(err) {
				return fmt.Errorf("treasury deposit: %w", err)
			}
			if err == nil {
				mine = append(mine, rec.Key)
			}
		}
		time.Sleep(time.Duration(15+rand.Intn(35)) * time.Millisecond)
	}
}

// EventRSVPer stampedes one event. Admissions past capacity, duplicate seats,
// and chaos-failed deposits are all expected outcomes; a corrupted count is not.
func EventRSVPer(ctx context.Context, eng *custody.Engine, ledgerID, principal, eventKey string, price int64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := eng.Admit(ctx, ledgerID, identity.Caller{Principal: principal, AttachedValue: price}, eventKey)
		if err != nil && !expected(err) {
			return fmt.Errorf("rsvp: %w", err)
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Organizer checks random attendees in. A seat refunds at most once no matter
// how often this fires.
func Organizer(ctx context.Context, eng *custody.Engine, ledgerID, owner, eventKey string, attendees []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		attendee := attendees[rand.Intn(len(attendees))]
		err := eng.CheckIn(ctx, ledgerID, identity.Caller{Principal: owner}, eventKey, attendee)
		if err != nil && !expected(err) {
			return fmt.Errorf("check in: %w", err)
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, simulating occasional delivery failure.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed' WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
