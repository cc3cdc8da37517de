// Package service orchestrates record upserts and the read-side queries over
// one configured store.
package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"kycvault/internal/platform/concurrency"
	"kycvault/internal/record/idempotency"
	"kycvault/internal/record/lock"
	"kycvault/internal/record/merge"
	"kycvault/internal/record/metrics"
	"kycvault/internal/record/models"
	"kycvault/internal/record/resolver"
	"kycvault/internal/record/schema"
	dErrors "kycvault/pkg/domain-errors"
	"kycvault/pkg/platform/audit/publisher"
)

// DefaultMaxSearchResults caps a search when the caller gives no limit.
const DefaultMaxSearchResults = 100

// Store is the persistence adapter the service runs on.
type Store interface {
	Find(ctx context.Context, field models.DocumentField, value string) (*models.Entity, bool, error)
	Get(ctx context.Context, id string) (*models.Entity, bool, error)
	Write(ctx context.Context, e *models.Entity, isNew bool) (string, error)
	List(ctx context.Context, filter models.Filter, page models.Page) ([]*models.Entity, error)
	Stats(ctx context.Context) (models.Stats, error)
}

type lifecycle int

const (
	stateNew lifecycle = iota
	stateReady
	stateClosed
)

// Service is safe for concurrent use once Init has returned.
type Service struct {
	store    Store
	layout   schema.Layout
	schema   *schema.Manager
	resolver *resolver.Resolver

	audit    *publisher.Logger
	metrics  *metrics.Metrics
	locker   lock.Locker
	idem     idempotency.Store
	idemTTL  time.Duration
	pool     *concurrency.Pool
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
	disabled bool

	maxHistory int
	maxSearch  int

	// mu is read-held by every call for its whole duration, so Shutdown
	// waits for in-flight calls.
	mu        sync.RWMutex
	state     lifecycle
	closeOnce sync.Once
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithAuditLogger records mutations and searches. Without it nothing is
// audited.
func WithAuditLogger(l *publisher.Logger) Option {
	return func(s *Service) {
		s.audit = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLocker replaces the in-process sharded lock, e.g. with lock.Redis
// when several processes share a store.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) {
		s.locker = l
	}
}

// WithIdempotency enables replay of upserts carrying an idempotency key.
func WithIdempotency(store idempotency.Store, ttl time.Duration) Option {
	return func(s *Service) {
		s.idem = store
		s.idemTTL = ttl
	}
}

// WithStorePool routes every persistence call through pool.
func WithStorePool(pool *concurrency.Pool) Option {
	return func(s *Service) {
		s.pool = pool
	}
}

func WithMaxHistory(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

func WithMaxSearchResults(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSearch = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator sets how new entity ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		s.newID = fn
	}
}

// WithStorageDisabled turns upserts into no-ops that report Stored=false.
func WithStorageDisabled() Option {
	return func(s *Service) {
		s.disabled = true
	}
}

func New(store Store, layout schema.Layout, opts ...Option) (*Service, error) {
	if store == nil || layout == nil {
		return nil, dErrors.New(dErrors.CodeInvalidState, "record service needs a store and a layout")
	}
	s := &Service{
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:     otel.Tracer("kycvault/record"),
		now:        time.Now,
		newID:      uuid.NewString,
		idemTTL:    idempotency.DefaultTTL,
		maxHistory: merge.DefaultMaxHistory,
		maxSearch:  DefaultMaxSearchResults,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = lock.NewSharded(lock.DefaultTimeout)
	}
	if s.idemTTL <= 0 {
		s.idemTTL = idempotency.DefaultTTL
	}

	s.store = &gatedStore{next: store, pool: s.pool}
	s.layout = &gatedLayout{next: layout, pool: s.pool}
	s.schema = schema.New(s.layout, schema.WithLogger(s.logger), schema.WithMetrics(s.metrics))
	s.resolver = resolver.New(s.store)
	return s, nil
}

// Init loads the persisted schema. Every other call fails until it returns.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case stateReady:
		return nil
	case stateClosed:
		return dErrors.New(dErrors.CodeInvalidState, "record service is shut down")
	}
	if err := s.schema.Load(ctx); err != nil {
		return s.storeError(err)
	}
	s.state = stateReady
	s.logger.InfoContext(ctx, "record service ready",
		"fields", len(s.schema.Fields()),
		"extensions", len(s.schema.Extensions()),
	)
	return nil
}

// Shutdown rejects new calls, waits for in-flight ones and drains the audit
// logger. Calling it again is a no-op.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.mu.Lock()
		s.state = stateClosed
		s.mu.Unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "record service shutdown interrupted")
	}

	var err error
	s.closeOnce.Do(func() {
		err = s.audit.Close()
		s.logger.InfoContext(ctx, "record service stopped")
	})
	return err
}

// enter admits a call. The returned func must be called when it ends.
func (s *Service) enter() (func(), error) {
	s.mu.RLock()
	switch s.state {
	case stateNew:
		s.mu.RUnlock()
		return nil, dErrors.New(dErrors.CodeInvalidState, "record service is not initialized")
	case stateClosed:
		s.mu.RUnlock()
		return nil, dErrors.New(dErrors.CodeInvalidState, "record service is shut down")
	}
	return s.mu.RUnlock, nil
}
