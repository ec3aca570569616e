package run

import (
	"slices"
	"strings"
	"time"

	"gisengine/internal/engine"
)

// SortOrder controls the order of listed runs.
type SortOrder int

const (
	// SortByUpdatedDesc lists the most recently updated runs first.
	SortByUpdatedDesc SortOrder = iota
	SortByUpdatedAsc
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ListOptions selects runs from a Store. Zero values mean "no filter".
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []Status
	// UpdatedGTE and UpdatedLTE bound UpdatedAt in unix seconds.
	UpdatedGTE int64
	UpdatedLTE int64
	HasResult  *bool
	Order      SortOrder
	// Query matches a substring of the run id, name or last error.
	Query string
	// Component keeps runs whose workflow contains a node of this component.
	Component string
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

func WithLimit(limit int) ListOption   { return func(o *ListOptions) { o.Limit = limit } }
func WithOffset(offset int) ListOption { return func(o *ListOptions) { o.Offset = offset } }
func WithQuery(query string) ListOption {
	return func(o *ListOptions) { o.Query = query }
}

// WithStatuses keeps runs in any of the given statuses. Unknown statuses are ignored.
func WithStatuses(statuses ...Status) ListOption {
	return func(o *ListOptions) { o.Statuses = append(o.Statuses[:0], statuses...) }
}

// WithUpdatedSince keeps runs updated at or after ts. A zero ts clears the bound.
func WithUpdatedSince(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedGTE = unixOrZero(ts) }
}

// WithUpdatedUntil keeps runs updated at or before ts. A zero ts clears the bound.
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedLTE = unixOrZero(ts) }
}

// WithResultPresence filters on whether an engine result was recorded.
func WithResultPresence(hasResult bool) ListOption {
	return func(o *ListOptions) { o.HasResult = &hasResult }
}

func WithSortOrder(order SortOrder) ListOption {
	return func(o *ListOptions) { o.Order = order }
}

// WithComponent keeps runs whose workflow uses the given component id.
func WithComponent(id string) ListOption {
	return func(o *ListOptions) { o.Component = id }
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

func buildListOptions(opts []ListOption) ListOptions {
	var o ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.applyDefaults()
	return o
}

// applyDefaults clamps paging and drops unusable filters. Stores call it too,
// so options built by hand behave like the ones from buildListOptions.
func (o *ListOptions) applyDefaults() {
	o.Limit = min(max(o.Limit, 0), maxListLimit)
	if o.Limit == 0 {
		o.Limit = defaultListLimit
	}
	o.Offset = max(o.Offset, 0)
	if o.Order != SortByUpdatedAsc {
		o.Order = SortByUpdatedDesc
	}
	o.Statuses = knownStatuses(o.Statuses)
	o.Query = strings.TrimSpace(o.Query)
	o.Component = strings.TrimSpace(o.Component)
}

// knownStatuses drops unknown and repeated statuses, keeping first-seen order.
func knownStatuses(in []Status) []Status {
	var out []Status
	for _, s := range in {
		if s.Valid() && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func (o ListOptions) matches(r *Run) bool {
	switch {
	case len(o.Statuses) > 0 && !slices.Contains(o.Statuses, r.Status):
		return false
	case o.UpdatedGTE > 0 && r.UpdatedAt < o.UpdatedGTE:
		return false
	case o.UpdatedLTE > 0 && r.UpdatedAt > o.UpdatedLTE:
		return false
	case o.HasResult != nil && (r.Result != nil) != *o.HasResult:
		return false
	}
	if o.Component != "" && !slices.ContainsFunc(r.Definition.Nodes, func(n engine.NodeSpec) bool {
		return n.ComponentID == o.Component
	}) {
		return false
	}
	if o.Query == "" {
		return true
	}
	q := strings.ToLower(o.Query)
	for _, field := range []string{r.ID, r.Name, r.LastError} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
