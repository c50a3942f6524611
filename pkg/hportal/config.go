package hportal

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a host portal process.
type Config struct {
	Portal  PortalConfig  `mapstructure:"portal"`
	Socket  SocketConfig  `mapstructure:"socket"`
	Wire    WireConfig    `mapstructure:"wire"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// PortalConfig defines the tunables that govern pool sizing, pipelining
// depth, and connection lifetime for a single host portal.
type PortalConfig struct {
	// MaxConnections caps how many host connections the portal will ever
	// hold open at once.
	MaxConnections int `mapstructure:"max_connections"`

	// MinIdle is how many seconds a connection may sit with an empty
	// pipeline before it requests its own shutdown.
	MinIdle int `mapstructure:"min_idle"`

	// MaxWorkload caps the summed workload cost a single connection will
	// carry in flight before its sender backs off.
	MaxWorkload int `mapstructure:"max_workload"`

	// MaxWait caps how far a retry-triggered pause may push the portal's
	// pause_until.
	MaxWait time.Duration `mapstructure:"max_wait"`

	// ConnectTimeout bounds each transport connect attempt.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// CheckConnectionInterval is how often a receiver loop re-evaluates
	// pool sizing (stable_conn tracking, idle reap, pause/backoff).
	CheckConnectionInterval time.Duration `mapstructure:"check_connection_interval"`

	// AbortConnAttempts is the number of consecutive failed connect
	// attempts the portal tolerates; once the count exceeds it, a
	// connection that failed to connect fails every queued GOP with
	// StatusCantConnect.
	AbortConnAttempts int `mapstructure:"abort_conn_attempts"`

	// StartStable seeds stable_conn so a freshly started portal doesn't
	// treat its first connections as flaky.
	StartStable int `mapstructure:"start_stable"`
}

// SocketConfig defines where demo Unix domain socket endpoints live on disk.
type SocketConfig struct {
	Dir         string `mapstructure:"dir"`
	Prefix      string `mapstructure:"prefix"`
	Permissions uint32 `mapstructure:"permissions"`
}

// WireConfig defines the demo framing/codec settings used by cmd/hportald.
// The core engine itself never looks at these; they
// configure internal/wire, one concrete implementation of the opaque
// send_command/send_phase/recv_phase callbacks.
type WireConfig struct {
	Codec          string        `mapstructure:"codec"`
	MaxFrameSize   int           `mapstructure:"max_frame_size"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"`
	TraceEnabled bool   `mapstructure:"trace_enabled"`
}

// MetricsConfig defines metrics collection settings.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Path     string `mapstructure:"path"`
}

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/hportal")
	}

	v.SetEnvPrefix("HPORTAL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// viper reads duration fields as bare numbers; apply their intended units.
	cfg.Portal.MaxWait *= time.Second
	cfg.Portal.CheckConnectionInterval *= time.Second
	cfg.Portal.ConnectTimeout *= time.Second
	cfg.Wire.RequestTimeout *= time.Second

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("portal.max_connections", 16)
	v.SetDefault("portal.min_idle", 1)
	v.SetDefault("portal.max_workload", 10)
	v.SetDefault("portal.max_wait", 30)
	v.SetDefault("portal.check_connection_interval", 1)
	v.SetDefault("portal.abort_conn_attempts", 5)
	v.SetDefault("portal.start_stable", 1)
	v.SetDefault("portal.connect_timeout", 5)

	v.SetDefault("socket.dir", "/tmp")
	v.SetDefault("socket.prefix", "hportal")
	v.SetDefault("socket.permissions", 0600)

	v.SetDefault("wire.codec", "json")
	v.SetDefault("wire.max_frame_size", 10485760) // 10MB
	v.SetDefault("wire.request_timeout", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.trace_enabled", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", ":9090")
	v.SetDefault("metrics.path", "/metrics")
}
