// Command launcher runs N admission nodes in-process, each bound to its
// own port, all sharing one Redis coordination store. It exists so the
// sliding-window quota engine's cluster-wide behavior (scenario S5: two
// nodes respecting one ceiling) can be exercised locally without standing
// up a real multi-host deployment.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

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
	nodes := flag.Int("nodes", 2, "number of admission nodes to launch")
	basePort := flag.Int("base-port", 8080, "first node listens here; node i listens on base-port+i")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.New(cfg)

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis client init failed")
	}
	if err := rc.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("redis ping failed; coordination store must be reachable at startup")
	}

	servers := make([]*http.Server, 0, *nodes)
	sweepers := make([]*quota.Sweeper, 0, *nodes)

	for i := 0; i < *nodes; i++ {
		nodeLog := log.With().Int("node", i).Logger()

		var promReg *prometheus.Registry
		var metricsRegistry *metrics.Registry
		if cfg.MetricsEnabled {
			promReg = prometheus.NewRegistry()
			metricsRegistry = metrics.NewRegistry(promReg)
		}

		// Every node shares the same Redis client: this is the whole point
		// of the exercise, the quota ceiling is enforced cluster-wide, not
		// per process.
		engine := quota.NewEngine(rc.Raw(), cfg.SegmentSeconds, cfg.WindowSeconds, cfg.SweepDeadline, cfg.StoreTimeout, nodeLog)

		sweeper := quota.NewSweeper(engine, rc.Raw(), cfg.SweepInterval, cfg.SweepDeadline, nodeLog, metricsRegistry)
		sweeper.Start()
		sweepers = append(sweepers, sweeper)

		up := upstream.NewMock()
		admission := handler.NewAdmissionHandler(engine, up, cfg, nodeLog, metricsRegistry)
		health := handler.NewHealthHandler(rc)
		models := handler.NewModelsHandler(up)

		r := router.NewRouter(cfg, nodeLog, admission, health, models, promReg)

		addr := ":" + strconv.Itoa(*basePort+i)
		srv := &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: cfg.UpstreamTimeout + 10*time.Second,
			IdleTimeout:  120 * time.Second,
		}
		servers = append(servers, srv)

		go func(s *http.Server, n int) {
			nodeLog.Info().Str("addr", s.Addr).Msg("node listening")
			if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				nodeLog.Fatal().Err(err).Msg("node failed")
			}
		}(srv, i)
	}

	fmt.Printf("launched %d nodes on ports %d..%d, sharing %s\n", *nodes, *basePort, *basePort+*nodes-1, cfg.RedisURL)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	log.Info().Msg("shutdown signal received")
	for _, s := range sweepers {
		s.Stop()
	}
	for _, srv := range servers {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
		_ = srv.Shutdown(ctx)
		cancel()
	}
}
