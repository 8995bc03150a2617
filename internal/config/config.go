// Package config loads and validates process-wide configuration for the
// application server kernel.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var structValidator = validator.New()

// Config represents the application configuration.
type Config struct {
	// Profile selects the storage/connection topology for the root
	// storage mount: "lite" (embedded, single-node) or "standard"
	// (Postgres + Redis backed).
	Profile DeploymentProfile `mapstructure:"profile"`

	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Cache    CacheConfig    `mapstructure:"cache"`
	App      AppConfig      `mapstructure:"app"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Kernel   KernelConfig   `mapstructure:"kernel"`
	Plugins  PluginsConfig  `mapstructure:"plugins"`
}

// DeploymentProfile represents the deployment profile type.
type DeploymentProfile string

const (
	// ProfileLite is single-node deployment with embedded storage (SQLite).
	ProfileLite DeploymentProfile = "lite"

	// ProfileStandard is HA-ready deployment with Postgres + Redis backed
	// connections.
	ProfileStandard DeploymentProfile = "standard"
)

// StorageConfig holds root storage mount configuration.
type StorageConfig struct {
	// Backend determines the default mount's backing implementation:
	// "filesystem" (Lite) or "postgres" (Standard).
	Backend StorageBackend `mapstructure:"backend"`

	// FilesystemPath is the directory for the embedded file-tree storage
	// mount (Lite profile).
	FilesystemPath string `mapstructure:"filesystem_path"`
}

// StorageBackend represents the storage implementation.
type StorageBackend string

const (
	StorageBackendFilesystem StorageBackend = "filesystem"
	StorageBackendPostgres   StorageBackend = "postgres"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port                    int           `mapstructure:"port" validate:"required,min=1,max=65535"`
	Host                    string        `mapstructure:"host" validate:"required"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
	CookieName              string        `mapstructure:"cookie_name" validate:"required"`
	CookiePath              string        `mapstructure:"cookie_path"`
	CookieDomain            string        `mapstructure:"cookie_domain"`
}

// DatabaseConfig holds the Postgres connection configuration used by the
// postgres connection subtype (internal/database/postgres).
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	URL             string        `mapstructure:"url"`
}

// RedisConfig holds the Redis connection configuration used by the redis
// connection subtype and the session store's shared backing.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// CacheConfig holds object-cache configuration (spec.md §4.1).
type CacheConfig struct {
	CleanInterval time.Duration `mapstructure:"clean_interval"`
	MaxEntries    int           `mapstructure:"max_entries"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
}

// AppConfig holds application-wide configuration.
type AppConfig struct {
	Name          string `mapstructure:"name" validate:"required"`
	Version       string `mapstructure:"version"`
	Environment   string `mapstructure:"environment"`
	Debug         bool   `mapstructure:"debug"`
	BaseDir       string `mapstructure:"base_dir"`
	LocalDir      string `mapstructure:"local_dir"`
}

// MetricsConfig holds Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// KernelConfig holds timing constants for the runtime kernel (spec.md §6
// "Background-job timing constants").
type KernelConfig struct {
	CacheCleanInterval    time.Duration `mapstructure:"cache_clean_interval"`
	SessionSweepInterval  time.Duration `mapstructure:"session_sweep_interval"`
	PoolMaxWait           time.Duration `mapstructure:"pool_max_wait"`
	SessionTTLAnonymous   time.Duration `mapstructure:"session_ttl_anonymous"`
	SessionTTLAuthed      time.Duration `mapstructure:"session_ttl_authenticated"`
	TokenStaleWindow      time.Duration `mapstructure:"token_stale_window"`
	ChannelDefaultMaxOpen int           `mapstructure:"channel_default_max_open" validate:"required,gt=0"`
	ChannelDefaultIdle    time.Duration `mapstructure:"channel_default_idle"`
	ObjectActiveDefault   time.Duration `mapstructure:"object_active_default"`
	RecursionLimit        int           `mapstructure:"recursion_limit" validate:"required,gt=0"`
}

// PluginsConfig holds plug-in manager configuration (spec.md §4.3).
type PluginsConfig struct {
	BaseDir  string   `mapstructure:"base_dir"`
	LocalDir string   `mapstructure:"local_dir"`
	Autoload []string `mapstructure:"autoload"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables only.
func LoadConfigFromEnv() (*Config, error) {
	return LoadConfig("")
}

func setDefaults() {
	viper.SetDefault("profile", "lite")
	viper.SetDefault("storage.backend", "filesystem")
	viper.SetDefault("storage.filesystem_path", "./data/storage")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.graceful_shutdown_timeout", "30s")
	viper.SetDefault("server.cookie_name", "sid")
	viper.SetDefault("server.cookie_path", "/")
	viper.SetDefault("server.cookie_domain", "")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "kernel")
	viper.SetDefault("database.username", "kernel")
	viper.SetDefault("database.password", "kernel")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.connect_timeout", "10s")
	viper.SetDefault("database.query_timeout", "30s")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 2)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("cache.clean_interval", "30s")
	viper.SetDefault("cache.max_entries", 10000)
	viper.SetDefault("cache.enable_metrics", true)

	viper.SetDefault("app.name", "kernel")
	viper.SetDefault("app.version", "0.1.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.base_dir", "./plugins")
	viper.SetDefault("app.local_dir", "./local")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("kernel.cache_clean_interval", "30s")
	viper.SetDefault("kernel.session_sweep_interval", "60m")
	viper.SetDefault("kernel.pool_max_wait", "5s")
	viper.SetDefault("kernel.session_ttl_anonymous", "30m")
	viper.SetDefault("kernel.session_ttl_authenticated", "720h")
	viper.SetDefault("kernel.token_stale_window", "240m")
	viper.SetDefault("kernel.channel_default_max_open", 4)
	viper.SetDefault("kernel.channel_default_idle", "600s")
	viper.SetDefault("kernel.object_active_default", "5m")
	viper.SetDefault("kernel.recursion_limit", 64)

	viper.SetDefault("plugins.base_dir", "./plugins")
	viper.SetDefault("plugins.local_dir", "./local/plugins")
	viper.SetDefault("plugins.autoload", []string{})
}

// Validate validates the configuration. Struct-tag constraints on the
// individual sections (required fields, ranges, enums) run first via
// go-playground/validator; the profile-conditional rules that depend on
// more than one field follow as plain Go, since validator's cross-struct
// tags can't see Config.Profile from inside DatabaseConfig.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("config validation failed: %s", formatValidationErrors(verrs))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := c.validateProfile(); err != nil {
		return fmt.Errorf("profile validation failed: %w", err)
	}

	if c.Profile == ProfileStandard {
		if c.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty (required for standard profile)")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name cannot be empty (required for standard profile)")
		}
	}

	return nil
}

// formatValidationErrors renders validator field errors as a single
// comma-separated message naming each offending field and constraint.
func formatValidationErrors(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, fmt.Sprintf("%s failed %q constraint", e.Namespace(), e.Tag()))
	}
	return strings.Join(parts, ", ")
}

func (c *Config) validateProfile() error {
	if c.Profile != ProfileLite && c.Profile != ProfileStandard {
		return fmt.Errorf("invalid deployment profile: %s (must be 'lite' or 'standard')", c.Profile)
	}

	if c.Storage.Backend != StorageBackendFilesystem && c.Storage.Backend != StorageBackendPostgres {
		return fmt.Errorf("invalid storage backend: %s (must be 'filesystem' or 'postgres')", c.Storage.Backend)
	}

	switch c.Profile {
	case ProfileLite:
		if c.Storage.FilesystemPath == "" {
			return fmt.Errorf("lite profile requires storage.filesystem_path")
		}
	case ProfileStandard:
		if c.Storage.Backend != StorageBackendPostgres {
			return fmt.Errorf("standard profile requires storage.backend='postgres' (got '%s')", c.Storage.Backend)
		}
	}

	return nil
}

// GetDatabaseURL constructs the database URL from configuration.
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Driver,
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		sslMode,
	)
}

// IsDevelopment returns true if the application is running in development mode.
func (c *Config) IsDevelopment() bool { return c.App.Environment == "development" }

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool { return c.App.Environment == "production" }

// IsLiteProfile returns true if running in the Lite deployment profile.
func (c *Config) IsLiteProfile() bool { return c.Profile == ProfileLite }

// IsStandardProfile returns true if running in the Standard deployment profile.
func (c *Config) IsStandardProfile() bool { return c.Profile == ProfileStandard }
