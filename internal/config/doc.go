// Package config loads the AgentHub daemon configuration from a YAML or JSON
// file, overlays AGENTHUB_* environment variables and fills defaults so every
// downstream component receives a complete, typed view of its settings.
package config
