// Package config loads the engine configuration from a YAML or JSON file with
// environment overrides prefixed GISENGINE_.
package config
