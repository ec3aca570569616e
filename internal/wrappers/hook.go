package wrappers

import (
	"context"
	"errors"
	"log/slog"

	"gisengine/pkg/component"
	"gisengine/pkg/plugin"
)

// Hook returns the loader hook registering every catalog algorithm as a
// component. Algorithms whose id is already registered are left untouched,
// so running the hook again only adds what is new.
func Hook(catalog Catalog, runner Runner, logger *slog.Logger) plugin.WrapperHook {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, reg *component.Registry) (int, error) {
		if catalog == nil || runner == nil {
			return 0, errors.New("wrapper hook needs a catalog and a runner")
		}
		algs, err := catalog.Algorithms(ctx)
		if err != nil {
			return 0, err
		}
		registered := 0
		for _, alg := range algs {
			if _, exists := reg.Get(alg.ComponentID()); exists {
				continue
			}
			spec, err := compile(alg)
			if err != nil {
				logger.Warn("skipping algorithm", slog.String("algorithm", alg.ID), slog.String("error", err.Error()))
				continue
			}
			if err := reg.RegisterE(spec.factory(runner)); err != nil {
				logger.Warn("register algorithm", slog.String("algorithm", alg.ID), slog.String("error", err.Error()))
				continue
			}
			registered++
		}
		logger.Debug("algorithm catalog processed", slog.Int("algorithms", len(algs)), slog.Int("registered", registered))
		return registered, nil
	}
}
