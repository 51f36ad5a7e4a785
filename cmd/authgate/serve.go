package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/erpcore/authgate"
	"github.com/erpcore/authgate/httpapi"
	"github.com/erpcore/authgate/internal/config"
	"github.com/erpcore/authgate/internal/logger"
	"github.com/erpcore/authgate/internal/telemetry"
	metricsprom "github.com/erpcore/authgate/metrics/prometheus"
	"github.com/erpcore/authgate/store/postgres"
)

func newServeCmd(configPath *string) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP authentication service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			return serve(cmd.Context(), cfg, log, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply the schema before serving")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger, migrate bool) error {
	if cfg.Version == "" {
		cfg.Version = version
	}
	log = log.With(zap.String("service", cfg.ServiceName), zap.String("version", cfg.Version))

	shutdownTracer, err := telemetry.Init(ctx, cfg.Telemetry, cfg.ServiceName, cfg.Version, log)
	if err != nil {
		return err
	}
	defer shutdownSafe(log, "tracer", shutdownTracer)

	store, err := postgres.Open(cfg.DatabaseURL, postgres.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := waitFor(ctx, log, "postgres", store.Ping); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		log.Info("schema applied")
	}

	builder := authgate.New().
		WithConfig(cfg.Engine()).
		WithIdentityStore(store).
		WithLogger(log)

	ready := []httpapi.ReadyCheck{{Name: "postgres", Check: store.Ping}}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		ping := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		if err := waitFor(ctx, log, "redis", ping); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		builder = builder.WithRedis(rdb)
		ready = append(ready, httpapi.ReadyCheck{Name: "redis", Check: ping})
	}

	sinks := []authgate.AuditSink{authgate.NewZapAuditSink(log)}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := authgate.NewKafkaAuditSink(authgate.KafkaAuditConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			ClientID:     cfg.Kafka.ClientID,
			RequiredAcks: cfg.Kafka.RequiredAcks,
			Timeout:      cfg.Kafka.Timeout,
		})
		if err != nil {
			return fmt.Errorf("kafka audit sink: %w", err)
		}
		defer func() { _ = kafka.Close() }()
		sinks = append(sinks, kafka)
		log.Info("kafka audit sink enabled", zap.String("topic", cfg.Kafka.Topic))
	}
	builder = builder.WithAuditSink(authgate.NewMultiAuditSink(sinks...))

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metricsprom.NewCollector(engine),
	)

	api := httpapi.New(engine, httpapi.Options{
		Logger:      log,
		TrustProxy:  cfg.HTTP.TrustProxy,
		ErrorDetail: cfg.Dev(),
		Ready:       ready,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Version:     cfg.Version,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", zap.Duration("timeout", cfg.HTTP.ShutdownTimeout))
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("service stopped with error", zap.Error(err))
		return err
	}
	log.Info("service stopped")
	return nil
}

// waitFor pings a dependency with exponential backoff until it answers, the
// retry budget runs out, or ctx is cancelled.
func waitFor(ctx context.Context, log *zap.Logger, name string, ping func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 30 * time.Second

	op := func() error {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return ping(pctx)
	}
	notify := func(err error, next time.Duration) {
		log.Warn("dependency not ready",
			zap.String("dependency", name),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}

func shutdownSafe(log *zap.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn("shutdown failed", zap.String("component", name), zap.Error(err))
	}
}
