// Package config loads the Reservoir process configuration: one TOML tree
// covering every component (Request Queuer, Page Getter, Scheduler, Worker,
// and the storage/messaging backends they share), with Viper-backed file
// precedence and environment overrides, grounded on teranos-QNTX's am
// package.
package config

import (
	"time"

	"github.com/fenwicklabs/reservoir/broker"
	"github.com/fenwicklabs/reservoir/rq"
	"github.com/fenwicklabs/reservoir/scheduler"
	"github.com/fenwicklabs/reservoir/worker"
)

// Config is the root configuration tree. Each section maps onto one
// component's constructor.
type Config struct {
	RQ         RQConfig         `mapstructure:"rq"`
	PageGetter PageGetterConfig `mapstructure:"pagegetter"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Blob       BlobConfig       `mapstructure:"blob"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Server     ServerConfig     `mapstructure:"server"`
}

// RQConfig tunes the Request Queuer's per-host dispatch, spec.md §4.1.
type RQConfig struct {
	MaxSimultaneous           int            `mapstructure:"max_simultaneous"`
	MinRequestIntervalPerHost int            `mapstructure:"min_request_interval_per_host_ms"`
	MaxSimultaneousPerHost    int            `mapstructure:"max_simultaneous_per_host"`
	DispatchIntervalMS        int            `mapstructure:"dispatch_interval_ms"`
	PerHostIntervalMS         map[string]int `mapstructure:"per_host_interval_ms"`
	PerHostConcurrency        map[string]int `mapstructure:"per_host_concurrency"`
}

// ToRQConfig builds an rq.Config, falling back to rq.DefaultConfig's values
// for anything left at its zero value.
func (c RQConfig) ToRQConfig() rq.Config {
	d := rq.DefaultConfig()
	out := rq.Config{
		MaxSimultaneous:           d.MaxSimultaneous,
		MinRequestIntervalPerHost: d.MinRequestIntervalPerHost,
		MaxSimultaneousPerHost:    d.MaxSimultaneousPerHost,
		DispatchInterval:          d.DispatchInterval,
	}
	if c.MaxSimultaneous > 0 {
		out.MaxSimultaneous = c.MaxSimultaneous
	}
	if c.MinRequestIntervalPerHost > 0 {
		out.MinRequestIntervalPerHost = time.Duration(c.MinRequestIntervalPerHost) * time.Millisecond
	}
	if c.MaxSimultaneousPerHost > 0 {
		out.MaxSimultaneousPerHost = c.MaxSimultaneousPerHost
	}
	if c.DispatchIntervalMS > 0 {
		out.DispatchInterval = time.Duration(c.DispatchIntervalMS) * time.Millisecond
	}
	if len(c.PerHostIntervalMS) > 0 {
		out.PerHostInterval = make(map[string]time.Duration, len(c.PerHostIntervalMS))
		for host, ms := range c.PerHostIntervalMS {
			out.PerHostInterval[host] = time.Duration(ms) * time.Millisecond
		}
	}
	if len(c.PerHostConcurrency) > 0 {
		out.PerHostConcurrency = c.PerHostConcurrency
	}
	return out
}

// PageGetterConfig tunes the Page Getter's default cache lifetime, spec.md
// §4.2.
type PageGetterConfig struct {
	DefaultTTLSeconds int `mapstructure:"default_ttl_seconds"`
}

// DefaultTTL returns the configured TTL, or one hour if unset.
func (c PageGetterConfig) DefaultTTL() time.Duration {
	if c.DefaultTTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// SchedulerConfig tunes the Scheduler's tick loop and backpressure, spec.md
// §4.3.
type SchedulerConfig struct {
	TickIntervalSeconds       int               `mapstructure:"tick_interval_seconds"`
	QueueDepthIntervalSeconds int               `mapstructure:"queue_depth_interval_seconds"`
	HighWater                 int               `mapstructure:"high_water"`
	MaxPerTick                int               `mapstructure:"max_per_tick"`
	StartupChunkSize          int               `mapstructure:"startup_chunk_size"`
	Remap                     map[string]string `mapstructure:"remap"`
}

// ToSchedulerConfig builds a scheduler.Config, falling back to
// scheduler.DefaultConfig's values for anything left at its zero value.
func (c SchedulerConfig) ToSchedulerConfig() scheduler.Config {
	d := scheduler.DefaultConfig()
	out := d
	if c.TickIntervalSeconds > 0 {
		out.TickInterval = time.Duration(c.TickIntervalSeconds) * time.Second
	}
	if c.QueueDepthIntervalSeconds > 0 {
		out.QueueDepthInterval = time.Duration(c.QueueDepthIntervalSeconds) * time.Second
	}
	if c.HighWater > 0 {
		out.HighWater = c.HighWater
	}
	if c.MaxPerTick > 0 {
		out.MaxPerTick = c.MaxPerTick
	}
	if c.StartupChunkSize > 0 {
		out.StartupChunkSize = c.StartupChunkSize
	}
	return out
}

// ToRemap converts the configured table into a scheduler.Remap.
func (c SchedulerConfig) ToRemap() scheduler.Remap {
	if len(c.Remap) == 0 {
		return nil
	}
	return scheduler.Remap(c.Remap)
}

// WorkerConfig tunes the Worker's concurrency and argument rewriting,
// spec.md §4.4.
type WorkerConfig struct {
	Prefetch         int                          `mapstructure:"prefetch"`
	SimultaneousJobs int                          `mapstructure:"simultaneous_jobs"`
	ArgMapping       map[string]map[string]string `mapstructure:"arg_mapping"`
	Remap            map[string]string            `mapstructure:"remap"`
}

// ToWorkerConfig builds a worker.Config, falling back to
// worker.DefaultConfig's values for anything left at its zero value.
func (c WorkerConfig) ToWorkerConfig() worker.Config {
	d := worker.DefaultConfig()
	out := d
	if c.Prefetch > 0 {
		out.Prefetch = c.Prefetch
	}
	if c.SimultaneousJobs > 0 {
		out.SimultaneousJobs = c.SimultaneousJobs
	}
	return out
}

// ToArgMapping converts the configured table into a worker.ArgMapping.
func (c WorkerConfig) ToArgMapping() worker.ArgMapping {
	if len(c.ArgMapping) == 0 {
		return nil
	}
	return worker.ArgMapping(c.ArgMapping)
}

// ToRemap converts the configured table into a worker.Remap.
func (c WorkerConfig) ToRemap() worker.Remap {
	if len(c.Remap) == 0 {
		return nil
	}
	return worker.Remap(c.Remap)
}

// DatabaseConfig points at the catalog's backing SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// BlobConfig selects and configures the Page Getter / invoker result blob
// store backend.
type BlobConfig struct {
	Backend string `mapstructure:"backend"` // "s3" or "mem"
	Bucket  string `mapstructure:"bucket"`
	Region  string `mapstructure:"region"`
}

// CacheConfig selects and configures the Worker's account lookup cache
// backend.
type CacheConfig struct {
	Backend  string `mapstructure:"backend"` // "redis" or "mem"
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// BrokerConfig points at the AMQP fanout exchange and queue shared by the
// Scheduler and Worker, spec.md §6.
type BrokerConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
	Queue    string `mapstructure:"queue"`
}

// ToBrokerConfig builds a broker.AMQPConfig, defaulting the exchange/queue
// names when unset.
func (c BrokerConfig) ToBrokerConfig() broker.AMQPConfig {
	exchange := c.Exchange
	if exchange == "" {
		exchange = "reservoir.reservations"
	}
	queue := c.Queue
	if queue == "" {
		queue = "reservoir.reservations"
	}
	return broker.AMQPConfig{URL: c.URL, Exchange: exchange, Queue: queue}
}

// ServerConfig holds the HTTP listen addresses for each process and the
// Scheduler's externally reachable URL (used by the Interface to notify
// the live-add endpoint, spec.md §6).
type ServerConfig struct {
	SchedulerAddr string `mapstructure:"scheduler_addr"`
	WorkerAddr    string `mapstructure:"worker_addr"`
	InterfaceAddr string `mapstructure:"interface_addr"`
	SchedulerURL  string `mapstructure:"scheduler_url"`
}
