package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from an optional YAML config file and from
// environment variables with the TASKMILL_ prefix. Environment variables
// take precedence over file values; defaults cover everything not required.
// An empty configPath skips the file entirely.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("engine.store", "memory")
	v.SetDefault("engine.executor", "pool")
	v.SetDefault("engine.worker_count", 2)
	v.SetDefault("engine.queue_size", 100)
	v.SetDefault("engine.result_ttl", "1h")
	v.SetDefault("engine.poll_interval", "100ms")
	v.SetDefault("engine.dispatch_mode", "query-flag")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.queue", "taskmill.tasks")

	if configPath != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	// Environment variables: TASKMILL_SERVER_PORT, TASKMILL_ENGINE_STORE, ...
	v.SetEnvPrefix("TASKMILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind every key so AutomaticEnv sees variables for keys
	// that have no default in a config file.
	for _, key := range []string{
		"server.port", "server.log_level",
		"engine.store", "engine.executor", "engine.worker_count",
		"engine.queue_size", "engine.result_ttl", "engine.poll_interval",
		"engine.dispatch_mode",
		"database.url",
		"redis.addr", "redis.password", "redis.db",
		"amqp.url", "amqp.queue",
	} {
		envVar := "TASKMILL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envVar); err != nil {
			return nil, fmt.Errorf("error binding environment variable %s: %w", envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}
