package main

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"

	"gisengine/components"
	"gisengine/internal/config"
	"gisengine/internal/engine"
	"gisengine/internal/events"
	"gisengine/internal/observability/metrics"
	"gisengine/internal/wrappers"
	"gisengine/pkg/component"
	"gisengine/pkg/logger"
	"gisengine/pkg/plugin"
)

// stack is the registry, loader and engine every command works with.
type stack struct {
	registry *component.Registry
	loader   *plugin.Loader
	report   plugin.Report
	engine   *engine.Engine
}

// buildStack discovers components and prepares an engine. collector and bus
// may be nil.
func buildStack(ctx context.Context, cfg *config.Config, collector *metrics.Collector, bus *events.Bus) (*stack, error) {
	log := logger.Named("bootstrap")

	registry := component.NewRegistry(
		component.WithLogger(logger.Named("registry")),
		component.WithObserver(func(id string, err error) {
			if collector != nil {
				collector.ComponentRegistered(id, err)
			}
			if bus != nil && err == nil {
				bus.Emit(events.Event{Type: events.ComponentRegistered, ComponentID: id})
			}
		}),
	)

	loaderOpts := []plugin.Option{
		plugin.WithLinkedTable(components.Linked()),
		plugin.WithLogger(logger.Named("plugins")),
	}
	if collector != nil {
		loaderOpts = append(loaderOpts, plugin.WithObserver(collector.PluginProcessed))
	}
	if w := cfg.Plugins.Wrappers; w.Enabled() {
		var runnerOpts []wrappers.HTTPRunnerOption
		if w.Token != "" {
			runnerOpts = append(runnerOpts, wrappers.WithBearerToken(w.Token))
		}
		hook := wrappers.Hook(wrappers.FileCatalog{Path: w.Catalog}, wrappers.NewHTTPRunner(w.Endpoint, runnerOpts...), logger.Named("wrappers"))
		loaderOpts = append(loaderOpts, plugin.WithWrapperHook("algorithms", hook))
	}
	loader, err := plugin.NewLoader(registry, cfg.Plugins.LoaderConfig, loaderOpts...)
	if err != nil {
		return nil, err
	}
	report, err := loader.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	ensureCore(registry, log)

	engineOpts := []engine.Option{
		engine.WithLogger(logger.Named("engine")),
		engine.WithTracer(otel.Tracer("gisengine/engine")),
		engine.WithTempDir(cfg.Engine.TempDir),
		engine.WithDataRoot(cfg.Engine.DataRoot),
	}
	if bus != nil {
		engineOpts = append(engineOpts, engine.WithEmitter(bus))
	}
	if collector != nil {
		engineOpts = append(engineOpts, engine.WithRecorder(collector))
	}
	return &stack{
		registry: registry,
		loader:   loader,
		report:   report,
		engine:   engine.New(registry, engineOpts...),
	}, nil
}

// ensureCore registers linked core components whose manifests were not found,
// e.g. when plugins.root does not point at a checkout.
func ensureCore(reg *component.Registry, log *slog.Logger) {
	for id, register := range components.Linked() {
		if _, ok := reg.Get(id); ok {
			continue
		}
		if err := register(reg); err != nil {
			log.Warn("register core component", slog.String("component", id), slog.String("error", err.Error()))
			continue
		}
		log.Debug("core component registered without manifest", slog.String("component", id))
	}
}
