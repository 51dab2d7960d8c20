package logger

import (
	"io"
	"os"
	"strconv"
)

// Config holds logger configuration.
type Config struct {
	Level        string    // debug, info, warn, error
	Format       string    // json, text
	Output       io.Writer // output destination, stdout when nil
	ServiceName  string    // service name for log tagging
	ReportCaller bool      // add func/file fields

	// File is an append-only log file written in addition to Output.
	File       string
	MaxSize    int // MB before rotation
	MaxBackups int
	Compress   bool
}

// DefaultConfig returns defaults, overridable through LOG_* environment variables.
// Parameters: none.
// Returns:
//   - *Config: default logger configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "text"),
		Output:      os.Stdout,
		ServiceName: getEnv("SERVICE_NAME", "webpmigrate"),
		File:        os.Getenv("LOG_FILE"),
		MaxSize:     getEnvInt("LOG_MAX_SIZE", 1024),
		MaxBackups:  getEnvInt("LOG_MAX_BACKUPS", 3),
		Compress:    getEnvBool("LOG_COMPRESS", false),
	}
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool gets a boolean environment variable with a default value.
func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// getEnvInt gets an integer environment variable with a default value.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
