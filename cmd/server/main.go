package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kycvault/internal/platform/concurrency"
	"kycvault/internal/platform/config"
	"kycvault/internal/platform/database"
	"kycvault/internal/platform/httpserver"
	"kycvault/internal/platform/logger"
	httpmetrics "kycvault/internal/platform/metrics"
	"kycvault/internal/platform/middleware"
	"kycvault/internal/platform/redis"
	"kycvault/internal/provider"
	"kycvault/internal/record/handler"
	"kycvault/internal/record/idempotency"
	"kycvault/internal/record/lock"
	"kycvault/internal/record/metrics"
	"kycvault/internal/record/schema"
	"kycvault/internal/record/service"
	"kycvault/internal/record/store/memory"
	"kycvault/internal/record/store/sheets"
	"kycvault/internal/record/store/sqlstore"
	audit "kycvault/pkg/platform/audit"
	"kycvault/pkg/platform/audit/publisher"
	auditmemory "kycvault/pkg/platform/audit/store/memory"
	auditsql "kycvault/pkg/platform/audit/store/sqlstore"
	"kycvault/pkg/platform/audit/stream"
	"kycvault/pkg/platform/httputil"
)

const (
	shutdownTimeout = 15 * time.Second
	redisLockLease  = 30 * time.Second
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	recordMetrics := metrics.New(prometheus.DefaultRegisterer)

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	closers = append(closers, be.close)

	auditOpts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithMetrics(recordMetrics),
		publisher.WithCircuitBreaker(publisher.NewCircuitBreaker(5, time.Minute)),
		publisher.WithAsyncBuffer(cfg.AuditBuffer),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := stream.New(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return fmt.Errorf("audit stream: %w", err)
		}
		closers = append(closers, producer.Close)
		auditOpts = append(auditOpts, publisher.WithStream(producer))
		log.Info("audit stream enabled", "topic", cfg.Kafka.AuditTopic)
	}
	auditLog := publisher.NewLogger(be.audit, auditOpts...)

	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(recordMetrics),
		service.WithAuditLogger(auditLog),
		service.WithStorePool(concurrency.NewPool(cfg.Records.StoreConcurrency, cfg.Records.StoreTimeout)),
		service.WithMaxHistory(cfg.Records.MaxHistory),
		service.WithMaxSearchResults(cfg.Records.MaxSearchResults),
	}
	if !cfg.Database.Enabled {
		svcOpts = append(svcOpts, service.WithStorageDisabled())
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if rdb != nil {
		closers = append(closers, func() { _ = rdb.Close() })
		svcOpts = append(svcOpts,
			service.WithLocker(lock.NewRedis(rdb.Client, cfg.Records.LockTimeout, redisLockLease)),
			service.WithIdempotency(idempotency.NewRedis(rdb.Client), cfg.Records.IdempotencyTTL),
		)
		log.Info("distributed lock and idempotency enabled")
	} else {
		svcOpts = append(svcOpts,
			service.WithLocker(lock.NewSharded(cfg.Records.LockTimeout)),
			service.WithIdempotency(idempotency.NewMemory(), cfg.Records.IdempotencyTTL),
		)
	}

	records, err := service.New(be.store, be.layout, svcOpts...)
	if err != nil {
		return err
	}
	if err := records.Init(ctx); err != nil {
		return fmt.Errorf("init record service: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := records.Shutdown(sctx); err != nil {
			log.Error("record service shutdown", "error", err)
		}
	}()

	var verifier handler.Verifier
	if cfg.Provider.APIToken != "" {
		verifier = provider.New(cfg.Provider.BaseURL, cfg.Provider.APIToken,
			provider.WithPool(concurrency.NewPool(cfg.Records.UpstreamConcurrency, cfg.Records.UpstreamTimeout)),
			provider.WithLogger(log),
			provider.WithMetrics(recordMetrics),
		)
	} else {
		log.Warn("SUREPASS_API_TOKEN not set; verification routes disabled")
	}

	router := newRouter(log, handler.New(records, verifier, log), be, rdb)
	srv := httpserver.New(cfg.Server.Addr, router)

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting kycvault", "addr", cfg.Server.Addr, "backend", cfg.Database.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func newRouter(log *slog.Logger, records *handler.Handler, be *backend, rdb *redis.Client) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Latency(httpmetrics.New(prometheus.DefaultRegisterer)))
	r.Use(chimw.Timeout(90 * time.Second))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		status := map[string]string{"status": "ok", "backend": be.name}
		code := http.StatusOK
		if err := be.ping(req.Context()); err != nil {
			status["status"], status["backend_error"] = "degraded", err.Error()
			code = http.StatusServiceUnavailable
		}
		if rdb != nil {
			if err := rdb.Health(req.Context()); err != nil {
				status["status"], status["redis_error"] = "degraded", err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		httputil.WriteJSON(w, code, status)
	})
	records.Register(r)
	return r
}

// backend is the configured record store with its schema layout and the
// audit sink living next to it.
type backend struct {
	name   string
	store  service.Store
	layout schema.Layout
	audit  audit.Store
	ping   func(context.Context) error
	close  func()
}

func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (*backend, error) {
	switch cfg.Database.Backend {
	case config.BackendSQLite, config.BackendPostgres:
		dialect := database.SQLite
		if cfg.Database.Backend == config.BackendPostgres {
			dialect = database.Postgres
		}
		db, err := database.Open(ctx, dialect, cfg.Database.URL, cfg.Database.MaxOpenConns, log)
		if err != nil {
			return nil, err
		}
		records := sqlstore.New(db)
		audits := auditsql.New(db)
		for _, m := range []interface{ Migrate(context.Context) error }{records, audits} {
			if err := m.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &backend{
			name:   cfg.Database.Backend,
			store:  records,
			layout: records.Layout(),
			audit:  audits,
			ping:   db.PingContext,
			close:  func() { _ = db.Close() },
		}, nil

	case config.BackendSheets:
		api, err := sheets.Open(ctx, cfg.Sheets)
		if err != nil {
			return nil, err
		}
		st := sheets.New(api, sheets.WithRetryDelay(cfg.Records.AlignmentRetryDelay))
		if err := st.Init(ctx); err != nil {
			return nil, err
		}
		log.Info("spreadsheet backend ready", "spreadsheet_id", api.SpreadsheetID())
		return &backend{
			name:   config.BackendSheets,
			store:  st,
			layout: st.Layout(),
			audit:  st,
			ping:   func(ctx context.Context) error { _, err := api.Read(ctx, sheets.RecordsSheet+"!1:1"); return err },
			close:  func() {},
		}, nil

	default:
		log.Warn("in-memory backend; records are lost on restart")
		return &backend{
			name:   config.BackendMemory,
			store:  memory.NewInMemory(),
			layout: schema.NewMemoryLayout(),
			audit:  auditmemory.NewInMemoryStore(),
			ping:   func(context.Context) error { return nil },
			close:  func() {},
		}, nil
	}
}
