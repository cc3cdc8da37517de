// Package memory is the in-process record store used by tests and ephemeral
// runs. It enforces the same PAN uniqueness rule as the relational store.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kycvault/internal/record/models"
	"kycvault/pkg/platform/sentinel"
)

// InMemory keeps entities in insertion order and hands out deep copies.
type InMemory struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*models.Entity
	now   func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		byID: make(map[string]*models.Entity),
		now:  time.Now,
	}
}

func (s *InMemory) Find(_ context.Context, field models.DocumentField, value string) (*models.Entity, bool, error) {
	value = models.NormalizeDocument(value)
	if value == "" || !field.IsValid() {
		return nil, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if e := s.byID[id]; e.Document(field) == value {
			return e.Clone(), true, nil
		}
	}
	return nil, false, nil
}

func (s *InMemory) Get(_ context.Context, id string) (*models.Entity, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[id]
	if !ok {
		return nil, false, nil
	}
	return e.Clone(), true, nil
}

// Write inserts e when isNew is set and replaces the stored entity otherwise.
func (s *InMemory) Write(_ context.Context, e *models.Entity, isNew bool) (string, error) {
	if e == nil {
		return "", fmt.Errorf("write record: nil entity")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := e.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	_, exists := s.byID[stored.ID]
	switch {
	case isNew && exists:
		return "", fmt.Errorf("insert record %s: %w", stored.ID, sentinel.ErrConflict)
	case !isNew && !exists:
		return "", fmt.Errorf("update record %s: %w", stored.ID, sentinel.ErrNotFound)
	}
	if pan := stored.PANNumber; pan != "" {
		for id, other := range s.byID {
			if id != stored.ID && other.PANNumber == pan {
				return "", fmt.Errorf("write record %s: pan_number taken: %w", stored.ID, sentinel.ErrConflict)
			}
		}
	}

	if !exists {
		s.order = append(s.order, stored.ID)
	}
	s.byID[stored.ID] = stored
	return stored.ID, nil
}

func (s *InMemory) List(_ context.Context, filter models.Filter, page models.Page) ([]*models.Entity, error) {
	s.mu.RLock()
	var matched []*models.Entity
	for _, id := range s.order {
		if e := s.byID[id]; filter.Matches(e) {
			matched = append(matched, e.Clone())
		}
	}
	s.mu.RUnlock()

	models.SortNewestFirst(matched)
	return page.Apply(matched), nil
}

func (s *InMemory) Stats(_ context.Context) (models.Stats, error) {
	today := s.now().UTC().Truncate(24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := models.Stats{Total: len(s.byID)}
	for _, e := range s.byID {
		if !e.CreatedAt.Before(today) {
			stats.CreatedToday++
		}
		if stats.MostRecent == nil || e.CreatedAt.After(*stats.MostRecent) {
			t := e.CreatedAt
			stats.MostRecent = &t
		}
	}
	return stats, nil
}

// Clear drops every record.
func (s *InMemory) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.byID = make(map[string]*models.Entity)
}
