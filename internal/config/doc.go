// Package config loads the service configuration from an optional JSON or YAML
// file plus environment overrides, validates it, and republishes it when the
// file changes.
package config
