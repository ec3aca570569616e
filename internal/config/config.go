package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"gisengine/internal/auth"
	"gisengine/internal/events"
	"gisengine/internal/run"
	"gisengine/internal/storage/redis"
	"gisengine/internal/storage/sqldb"
	"gisengine/pkg/logger"
	"gisengine/pkg/plugin"
)

// EnvPrefix prefixes environment overrides, e.g. GISENGINE_SERVER_ADDRESS.
const EnvPrefix = "GISENGINE"

// Config is the complete process configuration.
type Config struct {
	Server  ServerConfig      `mapstructure:"server"`
	Logging logger.Config     `mapstructure:"logging"`
	Plugins PluginsConfig     `mapstructure:"plugins"`
	Runs    RunsConfig        `mapstructure:"runs"`
	Events  events.MQTTConfig `mapstructure:"events"`
	Metrics MetricsConfig     `mapstructure:"metrics"`
	Alerts  AlertsConfig      `mapstructure:"alerts"`
	Auth    auth.Config       `mapstructure:"auth"`
	Tracing TracingConfig     `mapstructure:"tracing"`
	Engine  EngineConfig      `mapstructure:"engine"`

	// File is the config file that was read, empty when running on defaults.
	File string `mapstructure:"-"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

// PluginsConfig configures discovery.
type PluginsConfig struct {
	plugin.LoaderConfig `mapstructure:",squash"`
	Watch               bool           `mapstructure:"watch"`
	Wrappers            WrappersConfig `mapstructure:"wrappers"`
}

// WrappersConfig points at an external algorithm backend.
type WrappersConfig struct {
	Catalog  string `mapstructure:"catalog"`
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

// Enabled reports whether wrapper components should be generated.
func (w WrappersConfig) Enabled() bool { return w.Catalog != "" && w.Endpoint != "" }

// RunsConfig configures the asynchronous run service.
type RunsConfig struct {
	Workers    int           `mapstructure:"workers"`
	MaxRetries int           `mapstructure:"max_retries"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Store      StoreConfig   `mapstructure:"store"`
	Queue      QueueConfig   `mapstructure:"queue"`
}

// StoreConfig selects the run store. Driver "memory" ignores the SQL settings.
type StoreConfig struct {
	sqldb.Config `mapstructure:",squash"`
}

// QueueConfig selects the run queue.
type QueueConfig struct {
	Driver     string               `mapstructure:"driver"`
	Size       int                  `mapstructure:"size"`
	Redis      redis.Config         `mapstructure:"redis"`
	RedisQueue run.RedisQueueConfig `mapstructure:"redis_queue"`
	RabbitMQ   run.RabbitMQConfig   `mapstructure:"rabbitmq"`
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
	// Address serves /metrics on a separate listener when set.
	Address string `mapstructure:"address"`
}

// AlertsConfig configures failure notifications.
type AlertsConfig struct {
	Log         bool              `mapstructure:"log"`
	WebhookURL  string            `mapstructure:"webhook_url"`
	SlackURL    string            `mapstructure:"slack_url"`
	Headers     map[string]string `mapstructure:"headers"`
	MinSeverity string            `mapstructure:"min_severity"`
}

// TracingConfig configures OTLP span export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// EngineConfig tunes workflow execution.
type EngineConfig struct {
	TempDir string `mapstructure:"temp_dir"`
	// DataRoot confines file parameters of every workflow. Empty disables
	// the check.
	DataRoot string `mapstructure:"data_root"`
}

// Load reads path (YAML or JSON by extension) and applies environment
// overrides. An empty path runs on defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	baseDir := "."
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		baseDir = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.burst", 40)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputs", []string{"stdout"})
	v.SetDefault("logging.audit.enabled", false)
	v.SetDefault("logging.audit.path", "")

	v.SetDefault("plugins.root", ".")
	v.SetDefault("plugins.watch", false)
	v.SetDefault("plugins.wrappers.catalog", "")
	v.SetDefault("plugins.wrappers.endpoint", "")
	v.SetDefault("plugins.wrappers.token", "")

	v.SetDefault("runs.workers", 4)
	v.SetDefault("runs.max_retries", 3)
	v.SetDefault("runs.stale_after", 15*time.Minute)
	v.SetDefault("runs.store.driver", "memory")
	v.SetDefault("runs.store.dsn", "")
	v.SetDefault("runs.queue.driver", "memory")
	v.SetDefault("runs.queue.size", 256)
	v.SetDefault("runs.queue.redis.address", "")
	v.SetDefault("runs.queue.redis.password", "")
	v.SetDefault("runs.queue.redis.db", 0)
	v.SetDefault("runs.queue.redis_queue.key", "gisengine:runs")
	v.SetDefault("runs.queue.rabbitmq.url", "")
	v.SetDefault("runs.queue.rabbitmq.queue", "gisengine.runs")
	v.SetDefault("runs.queue.rabbitmq.durable", true)

	v.SetDefault("events.broker_url", "")
	v.SetDefault("events.client_id", "gisengine")
	v.SetDefault("events.topic_prefix", "gisengine/events")
	v.SetDefault("events.username", "")
	v.SetDefault("events.password", "")

	v.SetDefault("metrics.namespace", "gisengine")
	v.SetDefault("metrics.address", "")

	v.SetDefault("alerts.log", true)
	v.SetDefault("alerts.webhook_url", "")
	v.SetDefault("alerts.slack_url", "")
	v.SetDefault("alerts.min_severity", "warning")

	v.SetDefault("auth.mode", "disabled")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "gisengine")
	v.SetDefault("auth.audience", "gisengine-api")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.service_name", "gisengine")
	v.SetDefault("tracing.sample_ratio", 1.0)

	v.SetDefault("engine.temp_dir", "")
	v.SetDefault("engine.data_root", "data")
}

// applyDefaults fills values viper cannot default and resolves relative
// paths against baseDir.
func (c *Config) applyDefaults(baseDir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	c.Plugins.Root = resolve(c.Plugins.Root)
	c.Plugins.Wrappers.Catalog = resolve(c.Plugins.Wrappers.Catalog)
	c.Engine.TempDir = resolve(c.Engine.TempDir)
	c.Engine.DataRoot = resolve(c.Engine.DataRoot)
	c.Logging.Audit.Path = resolve(c.Logging.Audit.Path)
	if c.Runs.Workers <= 0 {
		c.Runs.Workers = 1
	}
	if strings.EqualFold(c.Runs.Store.Driver, "sqlite") && !strings.HasPrefix(c.Runs.Store.DSN, "file:") {
		c.Runs.Store.DSN = resolve(c.Runs.Store.DSN)
	}
	c.Runs.Store.Driver = strings.ToLower(strings.TrimSpace(c.Runs.Store.Driver))
	c.Runs.Queue.Driver = strings.ToLower(strings.TrimSpace(c.Runs.Queue.Driver))
}

// Validate reports every inconsistency at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Address) == "" {
		errs = append(errs, errors.New("server.address cannot be empty"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit cannot be negative"))
	}
	if err := c.Plugins.LoaderConfig.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("plugins: %w", err))
	}
	if (c.Plugins.Wrappers.Catalog == "") != (c.Plugins.Wrappers.Endpoint == "") {
		errs = append(errs, errors.New("plugins.wrappers needs both catalog and endpoint"))
	}

	switch c.Runs.Store.Driver {
	case "memory":
	case "mysql", "postgres", "sqlite":
		if strings.TrimSpace(c.Runs.Store.DSN) == "" {
			errs = append(errs, fmt.Errorf("runs.store.dsn is required for driver %s", c.Runs.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported runs.store.driver %q", c.Runs.Store.Driver))
	}
	switch c.Runs.Queue.Driver {
	case "memory":
	case "redis":
		if c.Runs.Queue.Redis.Address == "" {
			errs = append(errs, errors.New("runs.queue.redis.address is required"))
		}
	case "rabbitmq":
		if c.Runs.Queue.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("runs.queue.rabbitmq.url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported runs.queue.driver %q", c.Runs.Queue.Driver))
	}
	if c.Runs.Store.Driver == "memory" && c.Runs.Queue.Driver != "memory" {
		errs = append(errs, errors.New("a shared queue needs a shared store: use a sql runs.store.driver"))
	}

	switch auth.Mode(strings.ToLower(string(c.Auth.Mode))) {
	case auth.ModeDisabled, "":
	case auth.ModeJWT:
		if len(c.Auth.Secret) < 32 {
			errs = append(errs, errors.New("auth.secret must be at least 32 bytes in jwt mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported auth.mode %q", c.Auth.Mode))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("tracing.sample_ratio must be within [0, 1]"))
	}
	return errors.Join(errs...)
}
