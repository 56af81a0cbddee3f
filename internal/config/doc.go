// Package config provides centralized configuration management for the
// agent-chain runtime, loading typed settings for the HTTP server, storage,
// queue, authentication and pipeline subsystems from a JSON file with
// sensible defaults for local development.
package config
