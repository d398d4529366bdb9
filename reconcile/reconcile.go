// Package reconcile adapts quota engine reservations to upstream call
// outcomes, guaranteeing exactly-once resolution on every exit path.
package reconcile

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quotaforge/gateway/quota"
)

// Guard wraps one admitted reservation and guarantees it is resolved
// (committed or released) exactly once, however the caller's request
// handling exits — including via panic recovery further up the stack.
type Guard struct {
	engine        *quota.Engine
	reservationID string
	log           zerolog.Logger

	mu       sync.Mutex
	resolved bool
}

// NewGuard wraps a freshly admitted reservation.
func NewGuard(engine *quota.Engine, reservationID string, log zerolog.Logger) *Guard {
	return &Guard{engine: engine, reservationID: reservationID, log: log}
}

// Commit reconciles the reservation with the upstream's true usage. A
// no-op if the guard has already been resolved.
func (g *Guard) Commit(ctx context.Context, inActual, outActual int64) error {
	g.mu.Lock()
	if g.resolved {
		g.mu.Unlock()
		return nil
	}
	g.resolved = true
	g.mu.Unlock()

	if err := g.engine.Commit(ctx, g.reservationID, inActual, outActual); err != nil {
		g.log.Error().Err(err).Str("reservation_id", g.reservationID).Msg("commit failed")
		return err
	}
	return nil
}

// Release cancels the reservation, returning its provisional additions.
// A no-op if the guard has already been resolved.
func (g *Guard) Release(ctx context.Context) error {
	g.mu.Lock()
	if g.resolved {
		g.mu.Unlock()
		return nil
	}
	g.resolved = true
	g.mu.Unlock()

	if err := g.engine.Release(ctx, g.reservationID); err != nil {
		g.log.Error().Err(err).Str("reservation_id", g.reservationID).Msg("release failed")
		return err
	}
	return nil
}

// ReleaseIfUnresolved is meant to be deferred immediately after a Guard
// is created: if the caller's code path already called Commit or
// Release, this is a no-op; otherwise it releases the reservation so a
// panic or an unanticipated early return never leaks capacity.
func (g *Guard) ReleaseIfUnresolved(ctx context.Context) {
	g.mu.Lock()
	alreadyResolved := g.resolved
	g.mu.Unlock()
	if alreadyResolved {
		return
	}
	if err := g.Release(ctx); err != nil {
		g.log.Error().Err(err).Str("reservation_id", g.reservationID).Msg("deferred release failed")
	}
}
