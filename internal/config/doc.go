// Package config loads the server configuration from the environment.
package config
