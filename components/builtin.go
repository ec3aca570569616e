// Package components bundles the core components compiled into the engine.
// Each lives in its own directory with a plugin.yaml whose entry names one of
// the functions in Linked.
package components

import (
	"errors"

	"gisengine/components/buffer"
	filereader "gisengine/components/file_reader"
	filewriter "gisengine/components/file_writer"
	"gisengine/pkg/component"
	"gisengine/pkg/plugin"
)

// Linked is the link table handed to the plugin loader.
func Linked() map[string]plugin.RegisterFunc {
	return map[string]plugin.RegisterFunc{
		filereader.ID: filereader.Register,
		buffer.ID:     buffer.Register,
		filewriter.ID: filewriter.Register,
	}
}

// RegisterAll registers every core component without going through
// discovery. Components already present are reported in the joined error.
func RegisterAll(reg *component.Registry) error {
	return errors.Join(
		filereader.Register(reg),
		buffer.Register(reg),
		filewriter.Register(reg),
	)
}
