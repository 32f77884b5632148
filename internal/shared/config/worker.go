package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WorkerConfig contains all configuration for the worker service.
type WorkerConfig struct {
	Server      ServerConfig          `mapstructure:"server"`
	Coordinator CoordinatorConnConfig `mapstructure:"coordinator"`
	Poll        PollConfig            `mapstructure:"poll"`
	Scraper     ScraperConfig         `mapstructure:"scraper"`
	ResultsDir  string                `mapstructure:"results_dir"`
	Logging     LoggingConfig         `mapstructure:"logging"`
}

// ServerConfig contains the worker's own listener, used for /metrics.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// CoordinatorConnConfig contains coordinator connection configuration.
type CoordinatorConnConfig struct {
	Addr string           `mapstructure:"addr"`
	GRPC WorkerGRPCConfig `mapstructure:"grpc"`
}

// WorkerGRPCConfig contains worker gRPC client configuration.
type WorkerGRPCConfig struct {
	KeepaliveTime    time.Duration `mapstructure:"keepalive_time"`
	KeepaliveTimeout time.Duration `mapstructure:"keepalive_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// PollConfig bounds the backoff between job pulls.
type PollConfig struct {
	MinBackoff time.Duration `mapstructure:"min_backoff"`
	MaxBackoff time.Duration `mapstructure:"max_backoff"`
}

// ScraperConfig configures the reference HTML scraper.
type ScraperConfig struct {
	UserAgent        string            `mapstructure:"user_agent"`
	RequestTimeout   time.Duration     `mapstructure:"request_timeout"`
	Concurrency      int               `mapstructure:"concurrency"`
	MaxItems         int               `mapstructure:"max_items"`
	ProgressInterval int               `mapstructure:"progress_interval"`
	// Hosts the HTML scraper is registered for; empty serves any host.
	Hosts            []string          `mapstructure:"hosts"`
	Selectors        SelectorsConfig   `mapstructure:"selectors"`
	Capabilities     map[string]string `mapstructure:"capabilities"`
}

// SelectorsConfig holds goquery selectors for listing and detail pages.
type SelectorsConfig struct {
	Item        string `mapstructure:"item"`
	Link        string `mapstructure:"link"`
	Title       string `mapstructure:"title"`
	Views       string `mapstructure:"views"`
	Likes       string `mapstructure:"likes"`
	Comments    string `mapstructure:"comments"`
	Bookmarks   string `mapstructure:"bookmarks"`
	Description string `mapstructure:"description"`
	UploadDate  string `mapstructure:"upload_date"`
}

// LoadWorker loads the worker configuration from the given path.
// If configPath is empty, it looks for worker.yaml in the config/ directory.
// Environment variables with SCRAPEGRID_WORKER_ prefix override config file values.
func LoadWorker(configPath string) (*WorkerConfig, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":9100")
	v.SetDefault("coordinator.addr", "localhost:9090")
	v.SetDefault("coordinator.grpc.keepalive_time", 30*time.Second)
	v.SetDefault("coordinator.grpc.keepalive_timeout", 5*time.Second)
	v.SetDefault("coordinator.grpc.request_timeout", 10*time.Second)
	v.SetDefault("poll.min_backoff", 500*time.Millisecond)
	v.SetDefault("poll.max_backoff", 5*time.Second)
	v.SetDefault("scraper.user_agent", "scrapegrid-worker/1.0")
	v.SetDefault("scraper.request_timeout", 30*time.Second)
	v.SetDefault("scraper.concurrency", 4)
	v.SetDefault("scraper.max_items", 200)
	v.SetDefault("scraper.progress_interval", 5)
	v.SetDefault("scraper.hosts", []string{})
	v.SetDefault("scraper.selectors.item", "[data-e2e=user-post-item]")
	v.SetDefault("scraper.selectors.link", "a")
	v.SetDefault("scraper.selectors.title", "h1")
	v.SetDefault("scraper.selectors.views", "[data-e2e=video-views]")
	v.SetDefault("scraper.selectors.likes", "[data-e2e=like-count]")
	v.SetDefault("scraper.selectors.comments", "[data-e2e=comment-count]")
	v.SetDefault("scraper.selectors.bookmarks", "[data-e2e=undefined-count]")
	v.SetDefault("scraper.selectors.description", "[data-e2e=video-desc]")
	v.SetDefault("scraper.selectors.upload_date", "[data-e2e=browser-nickname] span:last-child")
	v.SetDefault("results_dir", "results")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := readConfig(v, configPath, "worker"); err != nil {
		return nil, err
	}

	v.SetEnvPrefix("SCRAPEGRID_WORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Poll.MinBackoff <= 0 || cfg.Poll.MaxBackoff < cfg.Poll.MinBackoff {
		return nil, fmt.Errorf("poll backoff must satisfy 0 < min_backoff <= max_backoff")
	}

	return &cfg, nil
}
