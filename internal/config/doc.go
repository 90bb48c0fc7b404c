// Package config loads YAML configuration for the installation store,
// including storage backend selection and partition binding.
package config
