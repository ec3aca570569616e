package component

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	xerrors "gisengine/internal/errors"
)

// Observer is notified after every registration attempt. id is empty when the
// component could not be described.
type Observer func(id string, err error)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the logger used for registration failures.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver adds a registration observer.
func WithObserver(obs Observer) RegistryOption {
	return func(r *Registry) {
		if obs != nil {
			r.observers = append(r.observers, obs)
		}
	}
}

type entry struct {
	factory Factory
	meta    Metadata
}

// Registry maps component ids to factories with secondary indexes by
// category and by type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]entry
	order      []string
	byCategory map[string][]string
	byType     map[Type][]string

	logger    *slog.Logger
	observers []Observer
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:    make(map[string]entry),
		byCategory: make(map[string][]string),
		byType:     make(map[Type][]string),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register adds the component produced by f. It returns false, logs, and
// leaves the registry untouched when the component is invalid or its id is
// taken. It never panics.
func (r *Registry) Register(f Factory) bool {
	if err := r.RegisterE(f); err != nil {
		r.logger.Warn("component registration failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// RegisterE is Register with the failure reason. Errors carry CodeDuplicate or
// CodeInvalid and match ErrDuplicate or ErrInvalid.
func (r *Registry) RegisterE(f Factory) (err error) {
	var meta Metadata
	defer func() { r.notify(meta.ID, err) }()

	meta, err = describe(f)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[meta.ID]; exists {
		return xerrors.New(CodeDuplicate, "component already registered: "+meta.ID,
			xerrors.WithMetadata("component_id", meta.ID))
	}
	r.entries[meta.ID] = entry{factory: f, meta: meta}
	r.order = append(r.order, meta.ID)
	r.byCategory[meta.Category] = append(r.byCategory[meta.Category], meta.ID)
	r.byType[meta.Type] = append(r.byType[meta.Type], meta.ID)
	r.logger.Debug("component registered",
		slog.String("component_id", meta.ID),
		slog.String("category", meta.Category),
		slog.String("type", string(meta.Type)))
	return nil
}

// describe instantiates f once and reads its metadata, converting panics into errors.
func describe(f Factory) (meta Metadata, err error) {
	if f == nil {
		return Metadata{}, invalid("nil factory")
	}
	defer func() {
		if rec := recover(); rec != nil {
			meta = Metadata{}
			err = invalid("panic while describing component: %v", rec)
		}
	}()
	c := f()
	if c == nil {
		return Metadata{}, invalid("factory returned nil")
	}
	meta = c.Metadata().clone()
	switch {
	case strings.TrimSpace(meta.ID) == "":
		return Metadata{}, invalid("empty id")
	case !meta.Type.Valid():
		return Metadata{}, invalid("%s has unknown type %q", meta.ID, meta.Type)
	}
	return meta, nil
}

func (r *Registry) notify(id string, err error) {
	for _, obs := range r.observers {
		obs(id, err)
	}
}

// Unregister removes id from the registry and every index.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	r.order = without(r.order, id)
	if ids := without(r.byCategory[e.meta.Category], id); len(ids) > 0 {
		r.byCategory[e.meta.Category] = ids
	} else {
		delete(r.byCategory, e.meta.Category)
	}
	if ids := without(r.byType[e.meta.Type], id); len(ids) > 0 {
		r.byType[e.meta.Type] = ids
	} else {
		delete(r.byType, e.meta.Type)
	}
	return true
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Get returns the factory registered under id.
func (r *Registry) Get(id string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.factory, ok
}

// New instantiates the component registered under id.
func (r *Registry) New(id string) (Component, bool) {
	f, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return f(), true
}

// Metadata returns a copy of the metadata registered under id.
func (r *Registry) Metadata(id string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Metadata{}, false
	}
	return e.meta.clone(), true
}

// List returns every id in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ListByCategory returns the ids registered under category.
func (r *Registry) ListByCategory(category string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.byCategory[category]...)
}

// ListByType returns the ids registered with type t.
func (r *Registry) ListByType(t Type) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.byType[t]...)
}

// Categories returns the known categories sorted by name.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byCategory))
	for c := range r.byCategory {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Search returns, in registration order, the ids whose name, description or
// any tag contains query, ignoring case. The query is not trimmed: an empty
// query matches everything, a blank one only text containing that blank.
func (r *Registry) Search(query string) []string {
	q := strings.ToLower(query)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range r.order {
		if r.entries[id].meta.matches(q) {
			out = append(out, id)
		}
	}
	return out
}

// Len returns the number of registered components.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear removes every entry and index.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]entry)
	r.order = nil
	r.byCategory = make(map[string][]string)
	r.byType = make(map[Type][]string)
}
