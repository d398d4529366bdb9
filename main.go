package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/quotaforge/gateway/config"
	"github.com/quotaforge/gateway/handler"
	"github.com/quotaforge/gateway/logger"
	"github.com/quotaforge/gateway/metrics"
	"github.com/quotaforge/gateway/quota"
	"github.com/quotaforge/gateway/redisclient"
	"github.com/quotaforge/gateway/router"
	"github.com/quotaforge/gateway/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Int("keys", len(cfg.Keys)).Msg("quota gateway starting")

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis client init failed")
	}
	if err := rc.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("redis ping failed; coordination store must be reachable at startup")
	}
	log.Info().Msg("redis connected")

	var promReg *prometheus.Registry
	var metricsRegistry *metrics.Registry
	if cfg.MetricsEnabled {
		promReg = prometheus.NewRegistry()
		metricsRegistry = metrics.NewRegistry(promReg)
	}

	engine := quota.NewEngine(rc.Raw(), cfg.SegmentSeconds, cfg.WindowSeconds, cfg.SweepDeadline, cfg.StoreTimeout, log)

	sweeper := quota.NewSweeper(engine, rc.Raw(), cfg.SweepInterval, cfg.SweepDeadline, log, metricsRegistry)
	sweeper.Start()

	up := selectUpstream(cfg, log)

	admission := handler.NewAdmissionHandler(engine, up, cfg, log, metricsRegistry)
	health := handler.NewHealthHandler(rc)
	models := handler.NewModelsHandler(up)

	r := router.NewRouter(cfg, log, admission, health, models, promReg)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("gateway stopped gracefully")
	}
}

// selectUpstream picks the real OpenAI-compatible upstream when
// configured, otherwise falls back to the deterministic mock so the
// gateway is runnable (e.g. in load tests) without a live API key.
func selectUpstream(cfg *config.Config, log zerolog.Logger) upstream.Provider {
	if cfg.UpstreamBaseURL != "" && cfg.UpstreamAPIKey != "" {
		log.Info().Str("base_url", cfg.UpstreamBaseURL).Msg("using configured upstream provider")
		return upstream.NewOpenAI(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, cfg.UpstreamTimeout)
	}
	log.Warn().Msg("no upstream configured (UPSTREAM_BASE_URL/UPSTREAM_API_KEY); using mock upstream")
	return upstream.NewMock()
}
