// Package logger builds the zap logger used across the server.
package logger
