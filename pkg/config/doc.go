// Package config loads service configuration from environment
// variables with validated defaults.
package config
