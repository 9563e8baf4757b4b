// Package config provides configuration loading and validation for the voice
// agent service. It handles YAML-based configuration with per-section struct
// validation and environment variable overrides for credentials.
package config
