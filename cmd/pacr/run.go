package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pacr/pacr/internal/config"
	"github.com/pacr/pacr/internal/logging"
	"github.com/pacr/pacr/internal/observability"
	"github.com/pacr/pacr/internal/pac"
	"github.com/pacr/pacr/internal/ratelimit"
	"github.com/pacr/pacr/internal/resolve"
	"github.com/pacr/pacr/internal/server"
	"github.com/pacr/pacr/internal/source"
)

const sweepInterval = time.Minute

func newRunCmd() *cobra.Command {
	var configPath string
	var listenOverride string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve proxy lookups over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return errors.New("config path is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if listenOverride != "" {
				cfg.Server.Listen = listenOverride
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	cmd.Flags().StringVar(&listenOverride, "listen", "", "Override server.listen")

	return cmd
}

func runServer(ctx context.Context, cfg *config.Config) error {
	if err := logging.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}
	log := logging.NewLogger("run")

	loader, err := source.New(cfg.SourceConfig())
	if err != nil {
		return err
	}
	fallback, err := cfg.FallbackDirective()
	if err != nil {
		return err
	}

	opts := pac.Options{Fallback: fallback}
	if cfg.DNS.Enabled {
		opts.Resolver = newResolver(cfg.DNS)
	}

	srvOpts := server.Options{
		Loader:      loader,
		Cache:       pac.NewCache(cfg.Evaluation.CacheSize, opts),
		Fallback:    fallback,
		EvalTimeout: cfg.DNS.Timeout,
	}
	if cfg.RateLimit.Enabled {
		srvOpts.Limiter = ratelimit.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	if cfg.Logging.DecisionLog != "" {
		logger, closer, err := logging.OpenDecisionLog(cfg.ResolvePath(cfg.Logging.DecisionLog))
		if err != nil {
			return err
		}
		defer func() { _ = closer() }()
		srvOpts.DecisionLog = logger
	}

	metricsSrv := startMetricsServer(cfg, &srvOpts)
	defer func() {
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(context.Background())
		}
	}()

	pacSrv, err := server.New(srvOpts)
	if err != nil {
		return err
	}

	// fail fast on a script that does not load or parse
	if text, err := loader.Load(ctx); err != nil {
		return err
	} else if _, _, err := srvOpts.Cache.Get(text); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           pacSrv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	signalCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go pacSrv.SweepLimiter(signalCtx, sweepInterval)

	log.WithField("listen", cfg.Server.Listen).WithField("source", loader.Origin()).Info("serving lookups")

	select {
	case <-signalCtx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newResolver(cfg config.DNSConfig) pac.Resolver {
	if cfg.Server == "" {
		return &resolve.System{Timeout: cfg.Timeout}
	}
	return resolve.NewDNS(cfg.Server, cfg.Timeout)
}

func startMetricsServer(cfg *config.Config, opts *server.Options) *http.Server {
	if !cfg.Metrics.Enabled {
		return nil
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	opts.Metrics = metrics

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))

	srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.NewLogger("metrics").WithError(err).Error("metrics server stopped")
		}
	}()
	return srv
}
