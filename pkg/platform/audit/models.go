package audit

import (
	"context"
	"time"
)

// Action is the kind of record mutation an audit entry describes.
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
)

// Mutation is the write-once audit entry for one record upsert. The maps hold
// the text value of each changed field before and after the upsert.
type Mutation struct {
	ID            string            `json:"id"`
	EntityID      string            `json:"record_id"`
	Action        Action            `json:"action"`
	ChangedFields []string          `json:"changed_fields"`
	OldValues     map[string]string `json:"old_values"`
	NewValues     map[string]string `json:"new_values"`
	Timestamp     time.Time         `json:"timestamp"`
}

// Search is the write-once log entry for one read-side search.
type Search struct {
	ID          string    `json:"id"`
	Field       string    `json:"search_type"`
	Query       string    `json:"query"`
	ResultCount int       `json:"results_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// Kind tags an Event on the wire.
type Kind string

const (
	KindMutation Kind = "mutation"
	KindSearch   Kind = "search"
)

// Event is the envelope mirrored to the audit stream. Exactly one of
// Mutation and Search is set.
type Event struct {
	Kind     Kind      `json:"kind"`
	Mutation *Mutation `json:"mutation,omitempty"`
	Search   *Search   `json:"search,omitempty"`
}

// Store is an append-only sink for audit and search entries.
type Store interface {
	AppendMutation(ctx context.Context, m Mutation) error
	AppendSearch(ctx context.Context, s Search) error
}

// Reader serves the read-side views over a Store.
type Reader interface {
	// ListMutations returns the entries for one record, oldest first.
	ListMutations(ctx context.Context, entityID string) ([]Mutation, error)
	// ListSearches returns up to limit entries, newest first.
	ListSearches(ctx context.Context, limit int) ([]Search, error)
}
