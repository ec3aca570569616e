// Package plugin discovers component packages on disk and registers them into
// a component registry.
package plugin

import "log/slog"

// Option modifies the behaviour of a Loader.
type Option func(*Loader)

// WithLinked makes fn reachable from manifests declaring `entry: name`.
func WithLinked(name string, fn RegisterFunc) Option {
	return func(l *Loader) {
		if name == "" || fn == nil {
			return
		}
		l.linked[name] = fn
	}
}

// WithLinkedTable adds every entry of table, see WithLinked.
func WithLinkedTable(table map[string]RegisterFunc) Option {
	return func(l *Loader) {
		for name, fn := range table {
			WithLinked(name, fn)(l)
		}
	}
}

// WithWrapperHook appends a hook that runs after the directory sources.
func WithWrapperHook(name string, hook WrapperHook) Option {
	return func(l *Loader) {
		if name == "" || hook == nil {
			return
		}
		l.hooks = append(l.hooks, namedHook{name: name, hook: hook})
	}
}

// WithOpener overrides how plugin libraries are opened.
func WithOpener(opener Opener) Option {
	return func(l *Loader) {
		if opener != nil {
			l.opener = opener
		}
	}
}

// WithIsolationStrategy sets a custom isolation policy enforcement strategy.
func WithIsolationStrategy(strategy IsolationStrategy) Option {
	return func(l *Loader) {
		if strategy != nil {
			l.isolation = strategy
		}
	}
}

// WithLogger sets the logger for discovery messages.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithObserver is called for every candidate and hook processed.
func WithObserver(fn func(Entry, error)) Option {
	return func(l *Loader) { l.observer = fn }
}
