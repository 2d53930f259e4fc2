package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Database      string        `toml:"database"`
	Cache         Cache         `toml:"cache"`
	Prefetch      Prefetch      `toml:"prefetch"`
	Activity      Activity      `toml:"activity"`
	Dispatch      Dispatch      `toml:"dispatch"`
	DragDrop      DragDrop      `toml:"dragdrop"`
	Reload        Reload        `toml:"reload"`
	Observability Observability `toml:"observability"`
}

type Cache struct {
	MaxSize int           `toml:"max_size"`
	MaxAge  time.Duration `toml:"max_age"`
}

type Prefetch struct {
	Radius int `toml:"radius"`
}

type Activity struct {
	IdleTimeout time.Duration `toml:"idle_timeout"`
}

type Dispatch struct {
	ChunkSize   int           `toml:"chunk_size"`
	QueueDepth  int           `toml:"queue_depth"`
	JobTimeout  time.Duration `toml:"job_timeout"`
	SyncCutover int           `toml:"sync_cutover"` // affected-node count above which work is dispatched
}

type DragDrop struct {
	AllowReparent  bool          `toml:"allow_reparent"`
	AllowReorder   bool          `toml:"allow_reorder"`
	Constraints    []string      `toml:"constraints"`
	ContainerKinds []string      `toml:"container_kinds"` // glob patterns of kinds that accept children
	MaxChildren    int           `toml:"max_children"`
	MaxDepth       int           `toml:"max_depth"`
	CommitTimeout  time.Duration `toml:"commit_timeout"`
	RetryBaseDelay time.Duration `toml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `toml:"retry_max_delay"`
	RetryAttempts  int           `toml:"retry_attempts"`
}

type Reload struct {
	RatePerSecond float64       `toml:"rate_per_second"`
	Burst         int           `toml:"burst"`
	FlushInterval time.Duration `toml:"flush_interval"`
	WaitTimeout   time.Duration `toml:"wait_timeout"`
}

type Observability struct {
	Addr         string `toml:"addr"`
	OTLPEndpoint string `toml:"otlp_endpoint"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Database == "" {
		cfg.Database = "arbor.db"
	}
	if cfg.Cache.MaxSize <= 0 {
		cfg.Cache.MaxSize = 2000
	}
	if cfg.Cache.MaxAge <= 0 {
		cfg.Cache.MaxAge = 5 * time.Minute
	}
	if cfg.Prefetch.Radius <= 0 {
		cfg.Prefetch.Radius = 20
	}
	if cfg.Activity.IdleTimeout <= 0 {
		cfg.Activity.IdleTimeout = 30 * time.Second
	}
	if cfg.Dispatch.ChunkSize <= 0 {
		cfg.Dispatch.ChunkSize = 1000
	}
	if cfg.Dispatch.QueueDepth <= 0 {
		cfg.Dispatch.QueueDepth = 8
	}
	if cfg.Dispatch.JobTimeout <= 0 {
		cfg.Dispatch.JobTimeout = 30 * time.Second
	}
	if cfg.Dispatch.SyncCutover <= 0 {
		cfg.Dispatch.SyncCutover = 100
	}
	if !cfg.DragDrop.AllowReparent && !cfg.DragDrop.AllowReorder {
		cfg.DragDrop.AllowReparent = true
		cfg.DragDrop.AllowReorder = true
	}
	if cfg.DragDrop.CommitTimeout <= 0 {
		cfg.DragDrop.CommitTimeout = 10 * time.Second
	}
	if cfg.DragDrop.RetryBaseDelay <= 0 {
		cfg.DragDrop.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.DragDrop.RetryMaxDelay <= 0 {
		cfg.DragDrop.RetryMaxDelay = 30 * time.Second
	}
	if cfg.DragDrop.RetryAttempts <= 0 {
		cfg.DragDrop.RetryAttempts = 3
	}
	if cfg.Reload.RatePerSecond <= 0 {
		cfg.Reload.RatePerSecond = 50
	}
	if cfg.Reload.Burst <= 0 {
		cfg.Reload.Burst = 100
	}
	if cfg.Reload.FlushInterval <= 0 {
		cfg.Reload.FlushInterval = 100 * time.Millisecond
	}
	if cfg.Reload.WaitTimeout <= 0 {
		cfg.Reload.WaitTimeout = 10 * time.Second
	}
	if cfg.Observability.Addr == "" {
		cfg.Observability.Addr = "localhost:9471"
	}
}
