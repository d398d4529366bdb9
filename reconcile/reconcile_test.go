package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quotaforge/gateway/quota"
	"github.com/quotaforge/gateway/reconcile"
)

func newEngine(t *testing.T) *quota.Engine {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return quota.NewEngine(client, 1, 60, 60*time.Second, 500*time.Millisecond, zerolog.Nop())
}

func TestGuardReleaseIfUnresolvedSkipsAfterCommit(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	limits := quota.Limits{InputTokensPerWindow: 100, OutputTokensPerWindow: 100, RequestsPerWindow: 5}

	res, err := engine.Admit(ctx, "k1", limits, 10, 10)
	if err != nil || !res.Admitted {
		t.Fatalf("admit failed: res=%+v err=%v", res, err)
	}

	guard := reconcile.NewGuard(engine, res.ReservationID, zerolog.Nop())
	defer guard.ReleaseIfUnresolved(ctx)

	if err := guard.Commit(ctx, 10, 5); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// A second commit (simulating a duplicate call) must be a no-op.
	if err := guard.Commit(ctx, 999, 999); err != nil {
		t.Fatalf("second commit: %v", err)
	}
}

func TestGuardReleaseIfUnresolvedFiresOnPanic(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()
	limits := quota.Limits{InputTokensPerWindow: 5, OutputTokensPerWindow: 5, RequestsPerWindow: 1}

	res, err := engine.Admit(ctx, "k1", limits, 5, 5)
	if err != nil || !res.Admitted {
		t.Fatalf("admit failed: res=%+v err=%v", res, err)
	}

	func() {
		guard := reconcile.NewGuard(engine, res.ReservationID, zerolog.Nop())
		defer func() {
			_ = recover()
		}()
		defer guard.ReleaseIfUnresolved(ctx)
		panic("simulated handler panic before commit")
	}()

	// Capacity should have been returned by the deferred release.
	res2, err := engine.Admit(ctx, "k1", limits, 5, 5)
	if err != nil {
		t.Fatalf("admit 2: %v", err)
	}
	if !res2.Admitted {
		t.Fatalf("expected capacity restored after guard released on panic")
	}
}
