package queue

import "time"

// Driver names a Storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverPostgres Driver = "postgres"
	DriverRedis    Driver = "redis"
)

// Config holds the configuration for the task queue.
type Config struct {
	Driver             Driver        `env:"QUEUE_DRIVER" envDefault:"memory"`
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
	LockTimeout        time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout    time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"10"`
	MaxRetries         int           `env:"QUEUE_MAX_RETRIES" envDefault:"3"`
	RedisPrefix        string        `env:"QUEUE_REDIS_PREFIX" envDefault:"queue"`
	MemoryCompletedTTL time.Duration `env:"QUEUE_MEMORY_COMPLETED_TTL" envDefault:"5m"`
}

// WorkerOptions translates cfg into worker options.
func (cfg Config) WorkerOptions() []WorkerOption {
	return []WorkerOption{
		WithPullInterval(cfg.PollInterval),
		WithLockTimeout(cfg.LockTimeout),
		WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
		WithShutdownTimeout(cfg.ShutdownTimeout),
	}
}
