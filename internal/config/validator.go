package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap/zapcore"
)

// ValidateAndFixConfig validates the configuration and fixes common issues.
// It returns a list of warnings for non-fatal issues that were fixed.
func ValidateAndFixConfig(config *Config) []string {
	var warnings []string

	// Check JWT secret
	if config.Auth.JWTSecret == "" {
		// Generate a random secret for development environments
		if config.Environment != "production" {
			secret, err := generateRandomSecret(32)
			if err == nil {
				config.Auth.JWTSecret = secret
				warnings = append(warnings, "JWT secret was empty, generated a random secret (not suitable for production)")
			}
		}
	} else if len(config.Auth.JWTSecret) < 32 {
		warnings = append(warnings, "JWT secret is shorter than 32 characters, consider using a longer secret")
	}

	// Check timeout configurations
	if config.Server.ReadTimeout < time.Second {
		config.Server.ReadTimeout = 15 * time.Second
		warnings = append(warnings, "Server read timeout was too small, reset to 15s")
	}
	if config.Server.WriteTimeout < time.Second {
		config.Server.WriteTimeout = 15 * time.Second
		warnings = append(warnings, "Server write timeout was too small, reset to 15s")
	}

	// Check Redis addresses
	for i, addr := range config.Database.Redis.Addresses {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			warnings = append(warnings, fmt.Sprintf("Redis address %d (%s) is not a valid host:port pair", i, addr))
		}
	}

	// Check grace window bounds
	if config.Room.HostGraceWindow > time.Hour {
		config.Room.HostGraceWindow = 180 * time.Second
		warnings = append(warnings, "Host grace window was longer than an hour, reset to 180s")
	}

	// Check stream drain timeout
	if config.Stream.DrainTimeout <= 0 {
		config.Stream.DrainTimeout = 5 * time.Second
		warnings = append(warnings, "Stream drain timeout was not positive, reset to 5s")
	}

	// Pong answers must be awaited for less time than the next ping takes to
	// arrive, otherwise a dead peer survives across ping cycles.
	if config.WebSocket.PongTimeout >= config.WebSocket.PingInterval {
		config.WebSocket.PongTimeout = config.WebSocket.PingInterval / 3
		warnings = append(warnings, "WebSocket pong timeout was not shorter than the ping interval, reset to a third of it")
	}

	// Check logging configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[config.Logging.Level] {
		warnings = append(warnings, fmt.Sprintf("Invalid log level '%s', reset to 'info'", config.Logging.Level))
		config.Logging.Level = "info"
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[config.Logging.Format] {
		warnings = append(warnings, fmt.Sprintf("Invalid log format '%s', reset to 'json'", config.Logging.Format))
		config.Logging.Format = "json"
	}

	return warnings
}

// generateRandomSecret generates a random secret of the specified length
func generateRandomSecret(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// GetLogLevel converts a string log level to a zapcore.Level
func GetLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
