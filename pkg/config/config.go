package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/pkg/adapter/nfs"
)

// Config represents the complete nfsd configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (NFSD_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Each share names a disk driver and carries a driver-specific options map,
// decoded by the driver's factory into its own Options type.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server"`

	// NFS configures the UDP/TCP transport serving NFS and MOUNT.
	// Uses the nfs.NFSConfig type directly to avoid duplication.
	NFS nfs.NFSConfig `mapstructure:"nfs"`

	// Sessions controls credential sessions and authentication
	Sessions SessionsConfig `mapstructure:"sessions"`

	// Cache tunes the open-file cache and the directory cursor tables
	Cache CacheConfig `mapstructure:"cache"`

	// RateLimit throttles calls before they reach a handler
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Portmap configures the embedded portmapper
	Portmap PortmapConfig `mapstructure:"portmap"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Shares defines the exports available to clients
	Shares []ShareConfig `mapstructure:"shares" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// Logger converts the section into the logger's own configuration.
func (c LoggingConfig) Logger() logger.Config {
	return logger.Config{Level: c.Level, Format: c.Format, Output: c.Output}
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// SessionsConfig controls the session tables.
type SessionsConfig struct {
	// IdleTimeout closes UDP sessions without traffic for this long.
	// TCP sessions live as long as their connection.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`

	// IdleSweep is how often idle sessions are looked for.
	IdleSweep time.Duration `mapstructure:"idle_sweep" validate:"gte=0"`

	// RequireUnixAuth refuses AUTH_NULL callers on every share.
	RequireUnixAuth bool `mapstructure:"require_unix_auth"`

	// AnonymousUID and AnonymousGID are given to AUTH_NULL callers.
	AnonymousUID uint32 `mapstructure:"anonymous_uid"`
	AnonymousGID uint32 `mapstructure:"anonymous_gid"`
}

// CacheConfig groups the per-session caches.
type CacheConfig struct {
	OpenFiles OpenFilesConfig `mapstructure:"open_files"`
	Cursors   CursorsConfig   `mapstructure:"cursors"`
}

// OpenFilesConfig tunes the open-file cache.
type OpenFilesConfig struct {
	// Lease is how long an unused handle stays open.
	Lease time.Duration `mapstructure:"lease" validate:"gte=0"`

	// Sweep is how often expired handles are closed.
	Sweep time.Duration `mapstructure:"sweep" validate:"gte=0"`

	// MaxEntries bounds the handles one session keeps open.
	MaxEntries int `mapstructure:"max_entries" validate:"gte=0"`
}

// CursorsConfig tunes the READDIR/READDIRPLUS cursor tables.
type CursorsConfig struct {
	// Lease is how long an idle listing keeps its slot.
	Lease time.Duration `mapstructure:"lease" validate:"gte=0"`

	Sweep time.Duration `mapstructure:"sweep" validate:"gte=0"`

	// MaxSlots bounds the concurrent listings per session (at most 256).
	MaxSlots int `mapstructure:"max_slots" validate:"gte=0,lte=256"`
}

// RateLimitConfig sets the token buckets. A zero rate disables a bucket.
type RateLimitConfig struct {
	RequestsPerSecond uint `mapstructure:"requests_per_second"`
	Burst             uint `mapstructure:"burst"`

	PerClientRequestsPerSecond uint `mapstructure:"per_client_requests_per_second"`
	PerClientBurst             uint `mapstructure:"per_client_burst"`
}

// PortmapConfig configures the embedded portmapper (program 100000 v2).
// It is disabled by default since most hosts already run rpcbind.
type PortmapConfig struct {
	Enabled bool `mapstructure:"enabled"`

	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`

	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Address to listen on, e.g. ":9090"
	Address string `mapstructure:"address"`
}

// ShareConfig defines a single export.
type ShareConfig struct {
	// Name is the share name; clients mount it as "/<name>".
	Name string `mapstructure:"name" validate:"required,excludesall=/\\"`

	// Driver selects the disk implementation backing the share
	// Valid values: memory, local, badger, s3
	Driver string `mapstructure:"driver" validate:"required,oneof=memory local badger s3"`

	// Options holds the driver-specific settings
	Options map[string]any `mapstructure:"options"`

	// ReadOnly makes the share read-only if true
	ReadOnly bool `mapstructure:"read_only"`

	// AllowedClients lists IP addresses or CIDR ranges allowed to access
	// Empty list means all clients are allowed
	AllowedClients []string `mapstructure:"allowed_clients"`

	// DeniedClients lists IP addresses or CIDR ranges explicitly denied
	// Takes precedence over AllowedClients
	DeniedClients []string `mapstructure:"denied_clients"`

	// ReadOnlyClients are granted read access only
	ReadOnlyClients []string `mapstructure:"read_only_clients"`

	// RequireAuth rejects AUTH_NULL callers on this share
	RequireAuth bool `mapstructure:"require_auth"`

	// IdentityMapping configures user/group squashing
	IdentityMapping IdentityMappingConfig `mapstructure:"identity_mapping"`
}

// IdentityMappingConfig controls user/group identity mapping.
type IdentityMappingConfig struct {
	// MapAllToAnonymous maps all users to anonymous (all_squash)
	MapAllToAnonymous bool `mapstructure:"map_all_to_anonymous"`

	// MapPrivilegedToAnonymous maps root user to anonymous (root_squash)
	MapPrivilegedToAnonymous bool `mapstructure:"map_privileged_to_anonymous"`

	// AnonymousUID is the UID to use for anonymous users
	AnonymousUID uint32 `mapstructure:"anonymous_uid"`

	// AnonymousGID is the GID to use for anonymous users
	AnonymousGID uint32 `mapstructure:"anonymous_gid"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NFSD_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath searches the default location; a missing file there
// is not an error and yields the default configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: NFSD_LOGGING_LEVEL=DEBUG, NFSD_NFS_PORT=3049
	v.SetEnvPrefix("NFSD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Scalar keys are bound explicitly so the environment can set them
	// even when the file does not mention them.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"nfs.port",
	"nfs.udp",
	"nfs.tcp",
	"nfs.workers",
	"nfs.queue_size",
	"nfs.max_connections",
	"sessions.idle_timeout",
	"sessions.require_unix_auth",
	"rate_limit.requests_per_second",
	"rate_limit.per_client_requests_per_second",
	"portmap.enabled",
	"portmap.port",
	"metrics.enabled",
	"metrics.address",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/nfsd, ~/.config/nfsd, or the
// current directory when no home directory can be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nfsd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "nfsd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
