// Package config loads, validates, and normalizes the TOML configuration
// shared by the slate CLI and the slated daemon.
package config
