package chaos

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/jackc/pgx/v5"

	"custodia/disburse"
)

// ErrInjected marks a deliberately failed transfer.
var ErrInjected = errors.New("chaos: injected transfer failure")

// FlakyTransferor wraps a real Transferor and fails a fraction of calls, to
// verify that an aborted payout rolls the whole operation back and leaves the
// record claimable.
type FlakyTransferor struct {
	inner disburse.Transferor
	rate  float64

	mu  sync.Mutex
	rng *rand.Rand
}

// Flaky injects failures at the given rate (0..1) using a seeded source.
func Flaky(inner disburse.Transferor, rate float64, seed int64) *FlakyTransferor {
	return &FlakyTransferor{
		inner: inner,
		rate:  rate,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

func (f *FlakyTransferor) Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64) error {
	f.mu.Lock()
	fail := f.rng.Float64() < f.rate
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.inner.Transfer(ctx, tx, from, to, amount)
}
