// Package config defines the application's configuration structure and
// loading logic: defaults, an optional YAML file, and TASKMILL_-prefixed
// environment variables, validated before use.
package config
