// Package resolver maps a verification payload to the stored entity it
// describes. Write-side matching uses document numbers only.
package resolver

import (
	"context"
	"fmt"

	"kycvault/internal/record/models"
)

// Store is the read side the resolver needs. Find is an exact match on a
// normalized document number.
type Store interface {
	Find(ctx context.Context, field models.DocumentField, value string) (*models.Entity, bool, error)
	List(ctx context.Context, filter models.Filter, page models.Page) ([]*models.Entity, error)
}

// Match is the outcome of Resolve. Found is false when no stored entity shares
// a document number with the payload.
type Match struct {
	Entity *models.Entity
	Key    models.DocumentKey
	Found  bool
}

type Resolver struct {
	store Store
}

func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// Key extracts the document number relevant to verificationType. id_number is
// read first, then the type's own field. Types that verify no document (ocr,
// face_match, ...) fall back to the first document in the payload.
func Key(p models.Payload, verificationType string) (models.DocumentKey, bool) {
	if field, ok := models.DocumentFieldFor(verificationType); ok {
		if v := models.NormalizeDocument(p.IDNumber); v != "" {
			return models.DocumentKey{Field: field, Value: v}, true
		}
		if v := p.Document(field); v != "" {
			return models.DocumentKey{Field: field, Value: v}, true
		}
		return models.DocumentKey{}, false
	}
	for _, f := range models.DocumentPriority {
		if v := p.Document(f); v != "" {
			return models.DocumentKey{Field: f, Value: v}, true
		}
	}
	return models.DocumentKey{}, false
}

// Candidates lists the lookups Resolve performs: the primary key first, then
// every other document number the payload carries, in priority order.
func Candidates(p models.Payload, primary models.DocumentKey) []models.DocumentKey {
	out := []models.DocumentKey{primary}
	for _, f := range models.DocumentPriority {
		v := p.Document(f)
		if v == "" {
			continue
		}
		k := models.DocumentKey{Field: f, Value: v}
		if k != primary {
			out = append(out, k)
		}
	}
	return out
}

// Resolve returns the stored entity sharing a document number with the
// payload. The first hit wins.
func (r *Resolver) Resolve(ctx context.Context, p models.Payload, primary models.DocumentKey) (Match, error) {
	for _, k := range Candidates(p, primary) {
		e, ok, err := r.store.Find(ctx, k.Field, k.Value)
		if err != nil {
			return Match{}, fmt.Errorf("resolve by %s: %w", k.Field, err)
		}
		if ok {
			return Match{Entity: e, Key: k, Found: true}, nil
		}
	}
	return Match{}, nil
}

// Search is the read-only lookup. It never takes part in writes.
func (r *Resolver) Search(ctx context.Context, field models.SearchField, query string, limit int) ([]*models.Entity, error) {
	filter := models.Filter{Field: field, Query: query}.Normalized()
	if filter.Field == "" || filter.Query == "" {
		return []*models.Entity{}, nil
	}
	found, err := r.store.List(ctx, filter, models.Page{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("search by %s: %w", field, err)
	}
	return found, nil
}
