package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CoordinatorConfig contains all configuration for the coordinator service.
type CoordinatorConfig struct {
	REST      RESTConfig      `mapstructure:"rest"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Health    HealthConfig    `mapstructure:"health"`
	Stats     StatsConfig     `mapstructure:"stats"`
	Events    EventsConfig    `mapstructure:"events"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// RESTConfig contains REST API server configuration.
type RESTConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// GRPCConfig contains gRPC server configuration.
type GRPCConfig struct {
	Addr              string        `mapstructure:"addr"`
	KeepaliveMinTime  time.Duration `mapstructure:"keepalive_min_time"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// SchedulerConfig controls the pending-job pairing loop.
type SchedulerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// HealthConfig contains worker liveness configuration.
type HealthConfig struct {
	CheckInterval time.Duration `mapstructure:"check_interval"`
	StaleTimeout  time.Duration `mapstructure:"stale_timeout"`
}

type StatsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// StorageConfig selects the durable store. Driver is "memory" or "postgres".
type StorageConfig struct {
	Driver         string `mapstructure:"driver"`
	DSN            string `mapstructure:"dsn"`
	MigrateOnStart bool   `mapstructure:"migrate_on_start"`
}

// RedisConfig enables the Redis progress cache when Addr is set.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	ProgressTTL time.Duration `mapstructure:"progress_ttl"`
}

type JobsConfig struct {
	AllowedHosts []string `mapstructure:"allowed_hosts"`
	ResultsDir   string   `mapstructure:"results_dir"`
	RecentLimit  int      `mapstructure:"recent_limit"`
}

// LoadCoordinator loads the coordinator configuration from the given path.
// If configPath is empty, it looks for coordinator.yaml in the config/ directory.
// Environment variables with SCRAPEGRID_COORDINATOR_ prefix override config file values.
func LoadCoordinator(configPath string) (*CoordinatorConfig, error) {
	v := viper.New()

	v.SetDefault("rest.addr", ":8080")
	v.SetDefault("rest.read_timeout", 15*time.Second)
	v.SetDefault("rest.write_timeout", time.Duration(0))
	v.SetDefault("rest.idle_timeout", 60*time.Second)
	v.SetDefault("rest.allowed_origins", []string{"*"})
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("grpc.keepalive_min_time", 10*time.Second)
	v.SetDefault("grpc.heartbeat_interval", 15*time.Second)
	v.SetDefault("scheduler.interval", 5*time.Second)
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("health.check_interval", 30*time.Second)
	v.SetDefault("health.stale_timeout", 60*time.Second)
	v.SetDefault("stats.interval", 10*time.Second)
	v.SetDefault("events.buffer_size", 64)
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.migrate_on_start", true)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.progress_ttl", time.Hour)
	v.SetDefault("jobs.allowed_hosts", []string{})
	v.SetDefault("jobs.results_dir", "results")
	v.SetDefault("jobs.recent_limit", 20)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := readConfig(v, configPath, "coordinator"); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("SCRAPEGRID_COORDINATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg CoordinatorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the coordinator cannot run with.
func (c *CoordinatorConfig) Validate() error {
	switch {
	case c.Scheduler.Interval <= 0:
		return fmt.Errorf("scheduler.interval must be positive")
	case c.Health.CheckInterval <= 0:
		return fmt.Errorf("health.check_interval must be positive")
	case c.Health.StaleTimeout <= 0:
		return fmt.Errorf("health.stale_timeout must be positive")
	case c.Stats.Interval <= 0:
		return fmt.Errorf("stats.interval must be positive")
	case c.GRPC.HeartbeatInterval >= c.Health.StaleTimeout:
		return fmt.Errorf("grpc.heartbeat_interval (%s) must be shorter than health.stale_timeout (%s)",
			c.GRPC.HeartbeatInterval, c.Health.StaleTimeout)
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}
