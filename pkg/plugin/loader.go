package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	xerrors "gisengine/internal/errors"
	"gisengine/pkg/component"
)

type namedHook struct {
	name string
	hook WrapperHook
}

// Loader discovers plugin directories and registers their components.
//
// Each immediate subdirectory of a source directory is one candidate. Its
// plugin.yaml names either a linked entry point or a Go plugin library. A
// broken candidate is logged and skipped; it never aborts the pass. Plugin
// directory names that loaded once are skipped on later passes, so the first
// source providing a name wins.
type Loader struct {
	registry  *component.Registry
	sources   []SourceConfig
	policy    IsolationPolicy
	linked    map[string]RegisterFunc
	hooks     []namedHook
	opener    Opener
	isolation IsolationStrategy
	logger    *slog.Logger
	observer  func(Entry, error)

	passMu sync.Mutex // serialises LoadAll
	mu     sync.RWMutex
	loaded map[string]Entry
}

// NewLoader builds a loader for cfg that registers into reg.
func NewLoader(reg *component.Registry, cfg LoaderConfig, opts ...Option) (*Loader, error) {
	if reg == nil {
		return nil, errors.New("plugin loader requires a registry")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Loader{
		registry: reg,
		sources:  cfg.Resolved(),
		policy:   cfg.Policy,
		linked:   make(map[string]RegisterFunc),
		opener:   GoPluginOpener{},
		logger:   slog.Default(),
		loaded:   make(map[string]Entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.isolation = NewIsolationStrategy(l.isolation)
	return l, nil
}

// Sources returns the configured sources in scan order.
func (l *Loader) Sources() []SourceConfig {
	return append([]SourceConfig(nil), l.sources...)
}

// LoadAll scans every source in order and then runs the wrapper hooks. It
// only fails when ctx is done; per-plugin failures are listed in the report.
func (l *Loader) LoadAll(ctx context.Context) (Report, error) {
	l.passMu.Lock()
	defer l.passMu.Unlock()

	var report Report
	for _, src := range l.sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		l.scanSource(ctx, src, &report)
	}
	for _, h := range l.hooks {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		l.runHook(ctx, h, &report)
	}
	l.logger.Info("plugin discovery finished",
		slog.Int("loaded", len(report.Loaded)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("components", report.Components()))
	return report, nil
}

func (l *Loader) scanSource(ctx context.Context, src SourceConfig, report *Report) {
	entries, err := os.ReadDir(src.Dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("read plugin source", slog.String("source", string(src.Kind)),
				slog.String("dir", src.Dir), slog.String("error", err.Error()))
		}
		return
	}
	// os.ReadDir sorts by name, which keeps passes deterministic.
	for _, de := range entries {
		if ctx.Err() != nil {
			return
		}
		name := de.Name()
		if !de.IsDir() || skipDir(name) {
			continue
		}
		if l.isLoaded(name) {
			continue
		}
		entry := Entry{Source: src.Kind, Name: name, Dir: filepath.Join(src.Dir, name)}
		n, err := l.loadCandidate(entry.Dir)
		entry.Components = n
		if err != nil {
			entry.Reason = err.Error()
			err = loadFailed(name, err)
			report.Skipped = append(report.Skipped, entry)
			l.logger.Warn("plugin skipped",
				slog.String("source", string(src.Kind)),
				slog.String("plugin", name),
				slog.String("error", err.Error()))
		} else {
			report.Loaded = append(report.Loaded, entry)
			l.markLoaded(name, entry)
			l.logger.Info("plugin loaded",
				slog.String("source", string(src.Kind)),
				slog.String("plugin", name),
				slog.Int("components", n))
		}
		l.notify(entry, err)
	}
}

// skipDir reports directories that are never plugin candidates: hidden and
// underscore-prefixed names plus Go's internal and testdata trees.
func skipDir(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return true
	}
	return name == "internal" || name == "testdata"
}

func (l *Loader) loadCandidate(dir string) (int, error) {
	manifest, err := ReadManifest(dir)
	if err != nil {
		return 0, err
	}
	if err := l.isolation.Validate(manifest, l.policy); err != nil {
		return 0, fmt.Errorf("isolation policy: %w", err)
	}
	register, err := l.resolve(manifest, dir)
	if err != nil {
		return 0, err
	}
	before := l.registry.Len()
	if err := safeRegister(register, l.registry); err != nil {
		return l.registry.Len() - before, fmt.Errorf("register components: %w", err)
	}
	return l.registry.Len() - before, nil
}

func (l *Loader) resolve(m Manifest, dir string) (RegisterFunc, error) {
	if m.Entry != "" {
		fn, ok := l.linked[m.Entry]
		if !ok {
			return nil, fmt.Errorf("entry %q is not linked into this binary", m.Entry)
		}
		return fn, nil
	}
	path := m.Library
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	fn, err := l.opener.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open library %s: %w", path, err)
	}
	return fn, nil
}

func safeRegister(fn RegisterFunc, reg *component.Registry) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(reg)
}

func (l *Loader) runHook(ctx context.Context, h namedHook, report *Report) {
	key := "wrapper:" + h.name
	if l.isLoaded(key) {
		return
	}
	entry := Entry{Source: SourceWrapper, Name: h.name}
	n, err := safeHook(ctx, h.hook, l.registry)
	entry.Components = n
	report.Wrapped += n
	if err != nil {
		entry.Reason = err.Error()
		err = loadFailed(key, err)
		report.Skipped = append(report.Skipped, entry)
		l.logger.Warn("wrapper hook failed", slog.String("hook", h.name), slog.String("error", err.Error()))
	} else {
		report.Loaded = append(report.Loaded, entry)
		l.markLoaded(key, entry)
		l.logger.Info("wrapper components registered", slog.String("hook", h.name), slog.Int("components", n))
	}
	l.notify(entry, err)
}

func safeHook(ctx context.Context, hook WrapperHook, reg *component.Registry) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return hook(ctx, reg)
}

func (l *Loader) notify(e Entry, err error) {
	if l.observer != nil {
		l.observer(e, err)
	}
}

func (l *Loader) isLoaded(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.loaded[name]
	return ok
}

func (l *Loader) markLoaded(name string, e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loaded[name] = e
}

// Loaded returns the names of loaded plugin directories and wrapper hooks, sorted.
func (l *Loader) Loaded() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.loaded))
	for name := range l.loaded {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LoadedEntries returns what each loaded plugin contributed, sorted by name.
func (l *Loader) LoadedEntries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.loaded))
	for _, e := range l.loaded {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Reload would swap a loaded plugin's implementation in place. It is not
// supported and always fails.
func (l *Loader) Reload(name string) error {
	return xerrors.New(CodeReloadUnsupported, "plugin reload is not supported: "+name,
		xerrors.WithMetadata("plugin", name))
}
