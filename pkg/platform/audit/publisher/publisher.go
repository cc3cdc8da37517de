// Package publisher records audit and search entries on a best-effort basis.
// Failures never reach the caller: they are logged and counted.
package publisher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "kycvault/pkg/platform/audit"
)

// Failure kinds reported to the metrics recorder.
const (
	FailureStore       = "store"
	FailureStream      = "stream"
	FailureBufferFull  = "buffer_full"
	FailureCircuitOpen = "circuit_open"
)

const asyncWriteTimeout = 10 * time.Second

// Stream mirrors entries to an external log.
type Stream interface {
	Publish(ctx context.Context, event audit.Event) error
}

// FailureRecorder counts dropped or failed entries by kind.
type FailureRecorder interface {
	IncrementAuditFailure(kind string)
}

// Logger writes audit mutations and search entries to a store, optionally
// through a bounded buffer and with a stream mirror.
type Logger struct {
	store   audit.Store
	stream  Stream
	breaker *CircuitBreaker
	logger  *slog.Logger
	metrics FailureRecorder
	now     func() time.Time

	mu     sync.RWMutex
	buffer chan audit.Event
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Logger)

// WithAsyncBuffer makes writes asynchronous through a buffer of size n.
// A full buffer drops the entry.
func WithAsyncBuffer(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.buffer = make(chan audit.Event, n)
		}
	}
}

func WithStream(s Stream) Option {
	return func(l *Logger) {
		l.stream = s
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(l *Logger) {
		l.breaker = cb
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Logger) {
		l.logger = logger
	}
}

func WithMetrics(m FailureRecorder) Option {
	return func(l *Logger) {
		l.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

func NewLogger(store audit.Store, opts ...Option) *Logger {
	l := &Logger{
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.buffer != nil {
		l.wg.Add(1)
		go l.drain()
	}
	return l
}

// LogMutation records one upsert. ID and Timestamp are filled in when zero.
func (l *Logger) LogMutation(ctx context.Context, m audit.Mutation) {
	if l == nil {
		return
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = l.now().UTC()
	}
	l.emit(ctx, audit.Event{Kind: audit.KindMutation, Mutation: &m})
}

// LogSearch records one search. ID and Timestamp are filled in when zero.
func (l *Logger) LogSearch(ctx context.Context, s audit.Search) {
	if l == nil {
		return
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = l.now().UTC()
	}
	l.emit(ctx, audit.Event{Kind: audit.KindSearch, Search: &s})
}

func (l *Logger) emit(ctx context.Context, ev audit.Event) {
	l.mu.RLock()
	if l.buffer != nil && !l.closed {
		select {
		case l.buffer <- ev:
			l.mu.RUnlock()
			return
		default:
			l.mu.RUnlock()
			l.fail(ctx, FailureBufferFull, ev, nil)
			return
		}
	}
	l.mu.RUnlock()
	l.write(ctx, ev)
}

func (l *Logger) drain() {
	defer l.wg.Done()
	for ev := range l.buffer {
		ctx, cancel := context.WithTimeout(context.Background(), asyncWriteTimeout)
		l.write(ctx, ev)
		cancel()
	}
}

func (l *Logger) write(ctx context.Context, ev audit.Event) {
	if l.breaker != nil && !l.breaker.Allow() {
		l.fail(ctx, FailureCircuitOpen, ev, nil)
	} else {
		var err error
		switch ev.Kind {
		case audit.KindMutation:
			err = l.store.AppendMutation(ctx, *ev.Mutation)
		case audit.KindSearch:
			err = l.store.AppendSearch(ctx, *ev.Search)
		}
		if l.breaker != nil {
			if err != nil {
				l.breaker.RecordFailure()
			} else {
				l.breaker.RecordSuccess()
			}
		}
		if err != nil {
			l.fail(ctx, FailureStore, ev, err)
		}
	}

	if l.stream != nil {
		if err := l.stream.Publish(ctx, ev); err != nil {
			l.fail(ctx, FailureStream, ev, err)
		}
	}
}

func (l *Logger) fail(ctx context.Context, kind string, ev audit.Event, err error) {
	if l.metrics != nil {
		l.metrics.IncrementAuditFailure(kind)
	}
	attrs := []any{"kind", string(ev.Kind), "failure", kind}
	switch {
	case ev.Mutation != nil:
		attrs = append(attrs, "record_id", ev.Mutation.EntityID, "action", string(ev.Mutation.Action))
	case ev.Search != nil:
		attrs = append(attrs, "search_type", ev.Search.Field)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	l.logger.WarnContext(ctx, "audit entry not recorded", attrs...)
}

// ListMutations reads the audit trail of one record, oldest first. Stores
// without a read side return nothing. Buffered entries become visible once
// written.
func (l *Logger) ListMutations(ctx context.Context, entityID string) ([]audit.Mutation, error) {
	if l == nil {
		return nil, nil
	}
	r, ok := l.store.(audit.Reader)
	if !ok {
		return nil, nil
	}
	return r.ListMutations(ctx, entityID)
}

// ListSearches reads the search history, newest first.
func (l *Logger) ListSearches(ctx context.Context, limit int) ([]audit.Search, error) {
	if l == nil {
		return nil, nil
	}
	r, ok := l.store.(audit.Reader)
	if !ok {
		return nil, nil
	}
	return r.ListSearches(ctx, limit)
}

// Close stops accepting buffered entries and waits until the buffer is
// written. Later calls write synchronously. Safe to call more than once.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	if l.buffer != nil && !l.closed {
		l.closed = true
		close(l.buffer)
	}
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}
