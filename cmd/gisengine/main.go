// Command gisengine runs GIS workflows: from the command line, or as a
// service exposing the HTTP API and asynchronous run workers.
package main

import (
	"os"

	"gisengine/pkg/logger"
)

func main() {
	err := newRootCommand().Execute()
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
