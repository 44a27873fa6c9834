// Package config loads the JSON configuration file that wires together the
// agent runtime: API server, storage drivers, command queue, LLM provider,
// StarkNet access, social channels, and auth. Secrets are resolved from the
// environment, optionally seeded from a .env file.
package config
