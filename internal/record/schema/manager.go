// Package schema tracks the active record field list and grows it when
// payloads carry fields no backend has seen yet.
package schema

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"kycvault/internal/record/metrics"
	"kycvault/internal/record/models"
	kstrings "kycvault/pkg/platform/strings"
)

// Layout is a backend's persisted field list. It only ever grows.
type Layout interface {
	// Fields returns the persisted field names in order.
	Fields(ctx context.Context) ([]string, error)
	// AddFields appends names and returns the resulting field list.
	AddFields(ctx context.Context, names []string) ([]string, error)
}

// Manager holds the active ordered field list: the canonical names followed
// by every extension the layout has accepted.
type Manager struct {
	layout  Layout
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	active []string
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func New(layout Layout, opts ...Option) *Manager {
	m := &Manager{
		layout: layout,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		active: models.CanonicalNames(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load merges the layout's persisted fields into the active list.
func (m *Manager) Load(ctx context.Context) error {
	persisted, err := m.layout.Fields(ctx)
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = append(m.active, kstrings.Missing(persisted, m.active)...)
	return nil
}

// EnsureFields makes every name part of the active schema and returns a
// snapshot of it. Names already present are a no-op, so a repeated call with
// the same names changes nothing.
func (m *Manager) EnsureFields(ctx context.Context, names []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	missing := kstrings.Missing(names, m.active)
	if len(missing) == 0 {
		return slices.Clone(m.active), nil
	}

	persisted, err := m.layout.AddFields(ctx, missing)
	if err != nil {
		return nil, fmt.Errorf("add fields %v: %w", missing, err)
	}
	m.active = append(m.active, kstrings.Missing(persisted, m.active)...)
	if still := kstrings.Missing(missing, m.active); len(still) > 0 {
		return nil, fmt.Errorf("layout did not accept fields %v", still)
	}

	m.metrics.AddFields(len(missing))
	m.logger.InfoContext(ctx, "record schema expanded",
		"added", missing,
		"field_count", len(m.active),
	)
	return slices.Clone(m.active), nil
}

// Fields returns a snapshot of the active field list.
func (m *Manager) Fields() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.active)
}

// Extensions returns the active fields outside the canonical schema.
func (m *Manager) Extensions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, f := range m.active {
		if !models.IsCanonical(f) {
			out = append(out, f)
		}
	}
	return out
}

// MemoryLayout is a Layout kept in process.
type MemoryLayout struct {
	mu     sync.Mutex
	fields []string
}

func NewMemoryLayout(fields ...string) *MemoryLayout {
	return &MemoryLayout{fields: kstrings.DedupeAndTrim(fields)}
}

func (l *MemoryLayout) Fields(context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.fields), nil
}

func (l *MemoryLayout) AddFields(_ context.Context, names []string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fields = append(l.fields, kstrings.Missing(names, l.fields)...)
	return slices.Clone(l.fields), nil
}
