package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Engine   EngineConfig   `mapstructure:"engine"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	AMQP     AMQPConfig     `mapstructure:"amqp"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// EngineConfig contains the task engine settings applied to every task
// group the server creates.
type EngineConfig struct {
	// Store selects the task record backend.
	Store string `mapstructure:"store" validate:"required,oneof=memory redis postgres"`

	// Executor selects how callables run out-of-band.
	Executor string `mapstructure:"executor" validate:"required,oneof=pool process amqp"`

	// WorkerCount bounds concurrent workers per task group.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gte=1"`

	// QueueSize bounds how many submitted tasks may await a worker.
	QueueSize int `mapstructure:"queue_size" validate:"required,gte=1"`

	// ResultTTL is how long completed task records are retained.
	ResultTTL time.Duration `mapstructure:"result_ttl" validate:"gte=0"`

	// PollInterval is how often a waiting result query re-reads the store.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gte=0"`

	// DispatchMode decides when an invocation runs asynchronously.
	DispatchMode string `mapstructure:"dispatch_mode" validate:"required,oneof=query-flag header-flag always never"`
}

// DatabaseConfig contains the Postgres settings, consulted when the
// postgres store is selected.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// RedisConfig contains the Redis settings, consulted when the redis store
// is selected.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// AMQPConfig contains the broker settings, consulted when the amqp
// executor is selected.
type AMQPConfig struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}
