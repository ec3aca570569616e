package main

import (
	"github.com/spf13/cobra"

	"gisengine/internal/config"
	"gisengine/pkg/logger"
)

// cli carries the persistent flags and the configuration they resolve to.
type cli struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "gisengine",
		Short:         "Run GIS processing workflows",
		Long:          "gisengine discovers processing components, validates and executes workflow graphs, and serves them over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "config file (YAML or JSON); GISENGINE_* variables override it")
	flags.StringVar(&c.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.StringVar(&c.logFormat, "log-format", "", "log format override (json, text)")

	root.AddCommand(
		newServeCommand(c),
		newRunCommand(c),
		newComponentsCommand(c),
		newPluginsCommand(c),
		newTokenCommand(c),
	)
	return root
}

func (c *cli) load() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Logging.Format = c.logFormat
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}
