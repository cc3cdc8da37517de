package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	dErrors "kycvault/pkg/domain-errors"
)

// SearchField selects the read-side match rule.
type SearchField string

const (
	SearchName  SearchField = "name"
	SearchPhone SearchField = "phone"
	SearchEmail SearchField = "email"
)

// ParseSearchField accepts the read-side fields and every document field.
// "pan" is accepted as shorthand for pan_number, likewise for other documents.
func ParseSearchField(s string) (SearchField, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch SearchField(s) {
	case SearchName, SearchPhone, SearchEmail:
		return SearchField(s), nil
	}
	if f, ok := DocumentFieldFor(s); ok {
		return SearchField(f), nil
	}
	if DocumentField(s).IsValid() {
		return SearchField(s), nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unsupported search field "+s)
}

// Document reports whether the search is an exact document-number match.
func (f SearchField) Document() (DocumentField, bool) {
	d := DocumentField(f)
	return d, d.IsValid()
}

// Filter narrows List. An empty Field lists every record.
type Filter struct {
	Field SearchField
	Query string
}

// Normalized returns the filter with its query in the form stores compare on.
func (f Filter) Normalized() Filter {
	q := strings.TrimSpace(f.Query)
	switch {
	case f.Field == "":
		q = ""
	case f.Field == SearchName || f.Field == SearchEmail:
		q = strings.ToLower(q)
	default:
		if _, ok := f.Field.Document(); ok {
			q = NormalizeDocument(q)
		}
	}
	return Filter{Field: f.Field, Query: q}
}

// Matches applies the filter to e. In-process stores use it directly; the
// relational store expresses the same rules in SQL.
func (f Filter) Matches(e *Entity) bool {
	f = f.Normalized()
	switch f.Field {
	case "":
		return true
	case SearchName:
		for _, n := range []string{e.FullName, e.FirstName, e.LastName} {
			if n != "" && strings.Contains(strings.ToLower(n), f.Query) {
				return true
			}
		}
		return false
	case SearchPhone:
		return e.PhoneNumber != "" && e.PhoneNumber == f.Query
	case SearchEmail:
		return e.Email != "" && strings.Contains(strings.ToLower(e.Email), f.Query)
	}
	if d, ok := f.Field.Document(); ok {
		return f.Query != "" && e.Document(d) == f.Query
	}
	return false
}

// Page bounds a List call. Limit <= 0 means no limit.
type Page struct {
	Offset int
	Limit  int
}

// Apply slices an already-sorted result set.
func (p Page) Apply(all []*Entity) []*Entity {
	if p.Offset >= len(all) {
		return []*Entity{}
	}
	if p.Offset > 0 {
		all = all[p.Offset:]
	}
	if p.Limit > 0 && p.Limit < len(all) {
		all = all[:p.Limit]
	}
	return all
}

// SortNewestFirst orders entities by CreatedAt descending. Equal timestamps
// keep their incoming order.
func SortNewestFirst(list []*Entity) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// Stats summarizes the record store.
type Stats struct {
	Total        int        `json:"total_records"`
	CreatedToday int        `json:"records_today"`
	MostRecent   *time.Time `json:"most_recent_record,omitempty"`
}

// Profile is the complete view of one entity.
type Profile struct {
	Entity             *Entity                    `json:"record"`
	History            []HistoryEntry             `json:"verification_history"`
	RawResponses       map[string]json.RawMessage `json:"raw_responses"`
	TotalVerifications int                        `json:"total_verifications"`
}
