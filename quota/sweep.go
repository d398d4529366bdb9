package quota

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quotaforge/gateway/metrics"
)

// Sweeper periodically reclaims OPEN reservations that have outlived
// the configured sweep deadline.
type Sweeper struct {
	engine   *Engine
	redis    *redis.Client
	log      zerolog.Logger
	interval time.Duration
	deadline time.Duration
	metrics  *metrics.Registry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper that scans at the given interval for
// reservations older than deadline. reg may be nil when metrics are
// disabled.
func NewSweeper(engine *Engine, client *redis.Client, interval, deadline time.Duration, log zerolog.Logger, reg *metrics.Registry) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Sweeper{
		engine:   engine,
		redis:    client,
		log:      log.With().Str("component", "quota_sweeper").Logger(),
		interval: interval,
		deadline: deadline,
		metrics:  reg,
		done:     make(chan struct{}),
	}
}

// Start begins the background sweep loop, which sweeps once immediately
// and then on every interval tick. Call Stop to shut it down.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.log.Info().Dur("interval", s.interval).Dur("deadline", s.deadline).Msg("starting reservation sweeper")
	go s.loop(ctx)
}

// Stop gracefully shuts down the sweeper and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	s.log.Info().Msg("reservation sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	cutoff := s.engine.Clock().Add(-s.deadline)

	sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	staleIDs, err := s.redis.ZRangeByScore(sweepCtx, "rl:open", &redis.ZRangeBy{
		Min: "-inf",
		Max: formatScore(cutoff),
	}).Result()
	if err != nil {
		s.log.Warn().Err(err).Msg("sweep scan failed")
		return
	}

	for _, id := range staleIDs {
		if err := s.engine.Release(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("reservation_id", id).Msg("sweep release failed")
			continue
		}
		s.log.Warn().Str("reservation_id", id).Msg("released stale reservation via sweep")
		if s.metrics != nil {
			s.metrics.SweepReleasesTotal.Inc()
		}
	}

	if s.metrics != nil {
		if open, err := s.redis.ZCard(sweepCtx, "rl:open").Result(); err == nil {
			s.metrics.ReservationsOpen.Set(float64(open))
		}
	}
}

func formatScore(t time.Time) string {
	seconds := float64(t.UnixNano()) / 1e9
	return strconv.FormatFloat(seconds, 'f', -1, 64)
}
