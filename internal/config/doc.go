// Package config handles configuration loading for hearth.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HEARTH_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/hearth/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${HEARTH_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	identity:
//	  code_ttl: "15m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Identity store:
//
//	database:
//	  driver: "sqlite"                 # or "postgres"
//	  path: "/var/lib/hearth/identities.db"
//	  dsn: "${HEARTH_POSTGRES_DSN}"    # postgres only
//
// Namespace layout:
//
//	namespaces:
//	  root: "/var/lib/hearth/spaces"
//	  watch: true
//	  inventory_debounce: "2s"
//
// Verification codes:
//
//	identity:
//	  code_ttl: "15m"
//	  code_length: 6
//
// Resource caches:
//
//	caches:
//	  connections: 64
//	  assistants: 32
package config
