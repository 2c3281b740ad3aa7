package config

import "github.com/fenwicklabs/reservoir/errors"

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.RQ.MaxSimultaneous < 0 {
		return errors.Newf("rq.max_simultaneous must be >= 0, got %d", c.RQ.MaxSimultaneous)
	}
	if c.Scheduler.HighWater < 0 {
		return errors.Newf("scheduler.high_water must be >= 0, got %d", c.Scheduler.HighWater)
	}
	if c.Scheduler.MaxPerTick < 0 {
		return errors.Newf("scheduler.max_per_tick must be >= 0, got %d", c.Scheduler.MaxPerTick)
	}
	if c.Worker.SimultaneousJobs < 0 {
		return errors.Newf("worker.simultaneous_jobs must be >= 0, got %d", c.Worker.SimultaneousJobs)
	}
	if c.Blob.Backend == "s3" && c.Blob.Bucket == "" {
		return errors.New("blob.bucket is required when blob.backend is \"s3\"")
	}
	if c.Cache.Backend == "redis" && c.Cache.Addr == "" {
		return errors.New("cache.addr is required when cache.backend is \"redis\"")
	}
	if c.Database.Path == "" {
		return errors.New("database.path must not be empty")
	}
	return nil
}
