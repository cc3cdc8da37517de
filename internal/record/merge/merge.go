// Package merge holds the pure field-level rules for folding a verification
// payload into an entity. It performs no I/O.
package merge

import (
	"encoding/json"
	"sort"
	"time"

	"kycvault/internal/record/models"
)

// DefaultMaxHistory bounds the per-entity verification history.
const DefaultMaxHistory = 100

// Meta describes the verification call being merged.
type Meta struct {
	VerificationType string
	Endpoint         string
	// Key is the document number the payload was resolved by.
	Key        models.DocumentKey
	Status     string
	Now        time.Time
	NewID      string
	MaxHistory int
}

// Change is one field whose value differs between two entity states.
type Change struct {
	Field string
	Old   string
	New   string
}

// Diff lists the field changes produced by Apply, sorted by field name.
type Diff struct {
	Created bool
	Changes []Change
}

// Fields returns the changed field names.
func (d Diff) Fields() []string {
	out := make([]string, len(d.Changes))
	for i, c := range d.Changes {
		out[i] = c.Field
	}
	return out
}

// OldValues maps each changed field to its previous value.
func (d Diff) OldValues() map[string]string {
	out := make(map[string]string, len(d.Changes))
	for _, c := range d.Changes {
		out[c.Field] = c.Old
	}
	return out
}

// NewValues maps each changed field to its new value.
func (d Diff) NewValues() map[string]string {
	out := make(map[string]string, len(d.Changes))
	for _, c := range d.Changes {
		out[c.Field] = c.New
	}
	return out
}

// Apply merges p into existing, or builds a new entity when existing is nil.
// existing is never modified.
//
// Present fields overwrite, absent fields are retained and document numbers
// are never cleared. Every call appends one history entry, replaces the raw
// archive entry for the verification type and bumps the verification count.
func Apply(existing *models.Entity, p models.Payload, m Meta) (*models.Entity, Diff) {
	now := m.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	before := models.Snapshot(existing)

	var target *models.Entity
	if existing == nil {
		target = &models.Entity{ID: m.NewID, CreatedAt: now}
	} else {
		target = existing.Clone()
		if target.CreatedAt.IsZero() {
			target.CreatedAt = now
		}
	}

	overlay(target, p.Partial())
	if m.Key.Value != "" {
		target.SetDocument(m.Key.Field, m.Key.Value)
	}

	status := m.Status
	if status == "" {
		status = models.StatusSuccess
	}
	source := m.Endpoint
	if source == "" {
		source = m.VerificationType
	}

	target.VerificationStatus = models.StatusVerified
	target.LastVerificationType = m.VerificationType
	target.VerificationSource = source
	target.VerificationCount++

	target.History = appendHistory(target.History, models.HistoryEntry{
		Type:      m.VerificationType,
		Timestamp: now,
		Status:    status,
		Endpoint:  m.Endpoint,
	}, m.MaxHistory)

	if target.RawResponses == nil {
		target.RawResponses = make(map[string]json.RawMessage, 1)
	}
	raw := p.Raw
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	target.RawResponses[m.VerificationType] = append(json.RawMessage(nil), raw...)

	target.UpdatedAt = now
	target.LastVerifiedAt = now
	if target.UpdatedAt.Before(target.CreatedAt) {
		target.UpdatedAt = target.CreatedAt
	}

	return target, Diff{
		Created: existing == nil,
		Changes: compare(before, models.Snapshot(target)),
	}
}

// overlay copies every populated field of partial onto target.
func overlay(target, partial *models.Entity) {
	for _, f := range models.Fields() {
		if !f.Audited {
			continue
		}
		if v := f.Get(partial); v != "" {
			// v was produced by the same field's encoder.
			_ = f.Set(target, v)
		}
	}
	for k, v := range partial.Extensions {
		if v == "" {
			continue
		}
		if target.Extensions == nil {
			target.Extensions = make(map[string]string)
		}
		target.Extensions[k] = v
	}
}

func appendHistory(history []models.HistoryEntry, entry models.HistoryEntry, max int) []models.HistoryEntry {
	if max <= 0 {
		max = DefaultMaxHistory
	}
	out := make([]models.HistoryEntry, 0, min(len(history)+1, max))
	if skip := len(history) + 1 - max; skip > 0 {
		history = history[skip:]
	}
	out = append(out, history...)
	return append(out, entry)
}

func compare(before, after map[string]string) []Change {
	var changes []Change
	for field, nv := range after {
		if ov := before[field]; ov != nv {
			changes = append(changes, Change{Field: field, Old: ov, New: nv})
		}
	}
	// Fields are never cleared, but report it if a store hands back less.
	for field, ov := range before {
		if _, ok := after[field]; !ok {
			changes = append(changes, Change{Field: field, Old: ov})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}
