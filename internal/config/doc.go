// Package config loads the RM Copilot configuration from a JSON or YAML file,
// fills in defaults relative to the file location, and applies environment
// overrides for the API key and log level.
package config
