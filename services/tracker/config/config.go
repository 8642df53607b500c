// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package config loads service configuration from the environment.
//
// Every knob has a NUMTRACKER_ prefixed variable and a default suitable
// for local development. CLI flags may override individual fields after
// loading.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variable names.
const (
	EnvDB            = "NUMTRACKER_DB"
	EnvPort          = "NUMTRACKER_PORT"
	EnvHost          = "NUMTRACKER_HOST"
	EnvRootDirectory = "NUMTRACKER_ROOT_DIRECTORY"
	EnvTracing       = "NUMTRACKER_TRACING"
	EnvTracingLevel  = "NUMTRACKER_TRACING_LEVEL"
	EnvAuthHost      = "NUMTRACKER_AUTH_HOST"
	EnvAuthAccess    = "NUMTRACKER_AUTH_ACCESS"
	EnvAuthAdmin     = "NUMTRACKER_AUTH_ADMIN"
	EnvLogDir        = "NUMTRACKER_LOG_DIR"
)

// Config is the resolved service configuration.
type Config struct {
	// DBPath is the SQLite database file.
	DBPath string

	// Host is the listen address for the HTTP server.
	Host string

	// Port is the listen port for the HTTP server.
	Port int

	// RootDirectory is prepended to relative tracker directories.
	RootDirectory string

	// TracingEndpoint is the OTLP gRPC receiver; empty disables tracing.
	TracingEndpoint string

	// TracingLevel is the minimum level forwarded to the trace exporter.
	TracingLevel string

	// AuthHost is the OIDC issuer used to validate bearer tokens;
	// empty disables authentication.
	AuthHost string

	// AuthAccessClaim is the token claim required for read access.
	AuthAccessClaim string

	// AuthAdminClaim is the token claim required for write access.
	AuthAdminClaim string

	// LogDir enables file logging when set.
	LogDir string
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() (Config, error) {
	cfg := Config{
		DBPath:          envOr(EnvDB, "numtracker.db"),
		Host:            envOr(EnvHost, "0.0.0.0"),
		RootDirectory:   os.Getenv(EnvRootDirectory),
		TracingEndpoint: os.Getenv(EnvTracing),
		TracingLevel:    envOr(EnvTracingLevel, "info"),
		AuthHost:        os.Getenv(EnvAuthHost),
		AuthAccessClaim: os.Getenv(EnvAuthAccess),
		AuthAdminClaim:  os.Getenv(EnvAuthAdmin),
		LogDir:          os.Getenv(EnvLogDir),
	}

	port := envOr(EnvPort, "8000")
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return Config{}, fmt.Errorf("invalid %s value %q", EnvPort, port)
	}
	cfg.Port = p
	return cfg, nil
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthEnabled reports whether bearer token validation is configured.
func (c Config) AuthEnabled() bool {
	return c.AuthHost != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
