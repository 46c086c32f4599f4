// Package query translates user-selected filters into a store query
// descriptor and sorts delivered result sets in memory.
//
// Nothing here performs I/O or returns errors. The same Descriptor drives
// the SQL builder in the sqlite store, the in-memory predicate used by
// tests and fakes, and the change filter of live subscriptions, so every
// surface (REST, SSE, WebSocket, MCP) sees identical filtering rules.
package query

import (
	"slices"

	"github.com/sakif/codeshelf/internal/model"
)

// DefaultLimit caps every list descriptor. It is a fixed ceiling: beyond it,
// the oldest matches by createdAt are simply not returned.
const DefaultLimit = 50

// Field names a filterable snippet attribute.
type Field string

const (
	FieldLanguage  Field = "language"
	FieldFramework Field = "framework"
	FieldTag       Field = "tags"
)

// Op is the comparison applied by a Condition.
type Op string

const (
	OpEqual    Op = "=="
	OpContains Op = "array-contains"
)

// Condition is one filter term. Conditions are always ANDed together.
type Condition struct {
	Field Field
	Op    Op
	Value string
}

// Criteria is what the user selected in the filter UI. An empty string means
// the criterion is absent.
type Criteria struct {
	Language  string `json:"language,omitempty"`
	Framework string `json:"framework,omitempty"`
	Tag       string `json:"tag,omitempty"`
}

// Descriptor is a composed list query: conditions, order and limit.
// Only Compose builds one, so the order and limit are never caller-tuned.
type Descriptor struct {
	conditions []Condition
	limit      int
}

// Compose builds a Descriptor from criteria. Each present criterion adds
// exactly one condition, in the fixed order language, framework, tag.
// Absent criteria add nothing (no "any" or null checks).
// The order is always createdAt descending.
func Compose(c Criteria) Descriptor {
	var conds []Condition
	if c.Language != "" {
		conds = append(conds, Condition{Field: FieldLanguage, Op: OpEqual, Value: c.Language})
	}
	if c.Framework != "" {
		conds = append(conds, Condition{Field: FieldFramework, Op: OpEqual, Value: c.Framework})
	}
	if c.Tag != "" {
		conds = append(conds, Condition{Field: FieldTag, Op: OpContains, Value: c.Tag})
	}
	return Descriptor{conditions: conds, limit: DefaultLimit}
}

// Conditions returns a copy of the descriptor's conditions in composition order.
func (d Descriptor) Conditions() []Condition {
	return slices.Clone(d.conditions)
}

// Limit is the maximum number of snippets the descriptor returns.
// The zero Descriptor still carries DefaultLimit.
func (d Descriptor) Limit() int {
	if d.limit <= 0 {
		return DefaultLimit
	}
	return d.limit
}

// Matches reports whether s satisfies every condition.
func (d Descriptor) Matches(s model.Snippet) bool {
	for _, c := range d.conditions {
		switch c.Field {
		case FieldLanguage:
			if s.Language != c.Value {
				return false
			}
		case FieldFramework:
			if s.Framework == nil || *s.Framework != c.Value {
				return false
			}
		case FieldTag:
			if !slices.Contains(s.Tags, c.Value) {
				return false
			}
		}
	}
	return true
}

// Apply runs the descriptor against an in-memory collection: filter, order
// newest first (missing createdAt last), then cap at the limit.
// The input slice is not modified.
func (d Descriptor) Apply(all []model.Snippet) []model.Snippet {
	out := make([]model.Snippet, 0, min(len(all), d.Limit()))
	for _, s := range all {
		if d.Matches(s) {
			out = append(out, s)
		}
	}
	Sort(out, SortNewest)
	if len(out) > d.Limit() {
		out = out[:d.Limit()]
	}
	return out
}
