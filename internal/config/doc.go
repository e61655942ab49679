// Package config loads the onboarding CLI configuration from TOML.
//
// Load starts from Default, decodes the file when present, normalizes paths
// and enumerations, then validates the result.
package config
