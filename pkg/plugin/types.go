package plugin

import (
	"context"

	"gisengine/pkg/component"
)

// SourceKind names a discovery source. Sources are scanned in the order of Kinds.
type SourceKind string

const (
	// SourceCore holds the components shipped with the engine.
	SourceCore SourceKind = "core"
	// SourceOfficial holds maintained first-party plugins.
	SourceOfficial SourceKind = "official"
	// SourceCommunity holds third-party plugins.
	SourceCommunity SourceKind = "community"
	// SourceWrapper marks components derived from an external algorithm catalog.
	SourceWrapper SourceKind = "wrapper"
)

// Kinds returns the directory sources in scan order.
func Kinds() []SourceKind {
	return []SourceKind{SourceCore, SourceOfficial, SourceCommunity}
}

// Capability expresses optional features a plugin may request access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityExecution  Capability = "execution"
)

// RegisterFunc is the entry point every plugin package provides. It must
// register each component it ships and nothing else.
type RegisterFunc func(reg *component.Registry) error

// WrapperHook registers components derived from an external catalog and
// returns how many it registered.
type WrapperHook func(ctx context.Context, reg *component.Registry) (int, error)

// Entry describes the outcome for one candidate of a discovery pass.
type Entry struct {
	Source     SourceKind `json:"source"`
	Name       string     `json:"name"`
	Dir        string     `json:"dir,omitempty"`
	Components int        `json:"components"`
	Reason     string     `json:"reason,omitempty"`
}

// Report summarises one LoadAll pass.
type Report struct {
	Loaded  []Entry `json:"loaded"`
	Skipped []Entry `json:"skipped"`
	Wrapped int     `json:"wrapped"`
}

// Components returns the number of components registered during the pass.
func (r Report) Components() int {
	total := r.Wrapped
	for _, e := range r.Loaded {
		if e.Source != SourceWrapper {
			total += e.Components
		}
	}
	return total
}
