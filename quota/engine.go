package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Engine is the distributed sliding-window quota engine. It holds no
// mutable per-key state in-process; all accounting lives in Redis.
type Engine struct {
	redis *redis.Client
	log   zerolog.Logger

	segmentSeconds int64
	windowSegments int64 // N; W = segmentSeconds * windowSegments
	reservationTTL time.Duration
	storeTimeout   time.Duration

	// Clock is overridable in tests to drive a virtual clock.
	Clock func() time.Time
}

// NewEngine constructs a quota Engine.
func NewEngine(client *redis.Client, segmentSeconds, windowSeconds int64, sweepDeadline, storeTimeout time.Duration, log zerolog.Logger) *Engine {
	if segmentSeconds <= 0 {
		segmentSeconds = 1
	}
	if windowSeconds <= 0 {
		windowSeconds = 60
	}
	n := windowSeconds / segmentSeconds
	if n <= 0 {
		n = 1
	}
	if windowSeconds%segmentSeconds != 0 {
		log.Warn().
			Int64("segment_seconds", segmentSeconds).
			Int64("window_seconds", windowSeconds).
			Msg("segment size does not divide window evenly; window is truncated to whole segments")
	}
	return &Engine{
		redis:          client,
		log:            log.With().Str("component", "quota_engine").Logger(),
		segmentSeconds: segmentSeconds,
		windowSegments: n,
		reservationTTL: sweepDeadline,
		storeTimeout:   storeTimeout,
		Clock:          time.Now,
	}
}

// Admit atomically checks whether admitting (inEst, outReserve, 1) for
// key would exceed any ceiling, and if not, reserves the capacity.
func (e *Engine) Admit(ctx context.Context, key string, limits Limits, inEst, outReserve int64) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	now := e.Clock()
	reservationID := uuid.NewString()

	raw, err := admitScript.Run(ctx, e.redis,
		nil,
		key,
		float64(now.UnixNano())/1e9,
		e.segmentSeconds,
		e.windowSegments,
		inEst,
		outReserve,
		limits.InputTokensPerWindow,
		limits.OutputTokensPerWindow,
		limits.RequestsPerWindow,
		reservationID,
		int64(e.reservationTTL.Seconds()),
	).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	fields, ok := raw.([]interface{})
	if !ok || len(fields) < 1 {
		return Result{}, fmt.Errorf("quota: malformed admit script result: %#v", raw)
	}

	admitted := toInt64(fields[0]) == 1

	if !admitted {
		if len(fields) < 6 {
			return Result{}, fmt.Errorf("quota: malformed admit script result: %#v", raw)
		}
		return Result{
			Admitted: false,
			Headers: Headers{
				RetryAfterSeconds: toInt64(fields[1]),
				LimitTokens:       toInt64(fields[2]),
				RemainingTokens:   toInt64(fields[3]),
				LimitRequests:     toInt64(fields[4]),
				RemainingRequests: toInt64(fields[5]),
			},
		}, nil
	}

	if len(fields) < 7 {
		return Result{}, fmt.Errorf("quota: malformed admit script result: %#v", raw)
	}
	return Result{
		Admitted:      true,
		ReservationID: reservationID,
		Headers: Headers{
			LimitTokens:       toInt64(fields[3]),
			RemainingTokens:   toInt64(fields[4]),
			LimitRequests:     toInt64(fields[5]),
			RemainingRequests: toInt64(fields[6]),
		},
	}, nil
}

// Commit reconciles a reservation with the true usage. Idempotent: a
// reservation that is missing or already terminal is a no-op.
func (e *Engine) Commit(ctx context.Context, reservationID string, inActual, outActual int64) error {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	now := e.Clock()
	raw, err := commitScript.Run(ctx, e.redis,
		nil,
		reservationID,
		float64(now.UnixNano())/1e9,
		e.segmentSeconds,
		e.windowSegments,
		inActual,
		outActual,
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	fields, ok := raw.([]interface{})
	if !ok || len(fields) < 1 {
		return fmt.Errorf("quota: malformed commit script result: %#v", raw)
	}
	if toInt64(fields[0]) == 2 {
		e.log.Warn().Str("reservation_id", reservationID).Msg("commit applied via expired-bucket fallback")
	}
	return nil
}

// Release cancels a reservation, returning its provisional additions.
// Idempotent.
func (e *Engine) Release(ctx context.Context, reservationID string) error {
	ctx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	_, err := releaseScript.Run(ctx, e.redis, nil, reservationID).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
