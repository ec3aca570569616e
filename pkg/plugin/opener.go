package plugin

import (
	"errors"
	"fmt"
	goplugin "plugin"

	"gisengine/pkg/component"
)

// EntrySymbol is the exported name looked up in shared-object plugins.
const EntrySymbol = "RegisterComponents"

// Opener resolves a plugin library into its entry point.
type Opener interface {
	Open(path string) (RegisterFunc, error)
}

// GoPluginOpener loads libraries built with -buildmode=plugin.
type GoPluginOpener struct{}

// Open opens the shared object and looks up RegisterComponents.
func (GoPluginOpener) Open(path string) (RegisterFunc, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	symbol, err := so.Lookup(EntrySymbol)
	if err != nil {
		return nil, err
	}
	return asRegisterFunc(symbol)
}

func asRegisterFunc(symbol any) (RegisterFunc, error) {
	switch fn := symbol.(type) {
	case func(*component.Registry) error:
		return fn, nil
	case *func(*component.Registry) error:
		if fn == nil || *fn == nil {
			return nil, errors.New("entry symbol is nil")
		}
		return *fn, nil
	case func(*component.Registry):
		return func(reg *component.Registry) error {
			fn(reg)
			return nil
		}, nil
	case RegisterFunc:
		return fn, nil
	default:
		return nil, fmt.Errorf("%s has unsupported type %T", EntrySymbol, symbol)
	}
}
