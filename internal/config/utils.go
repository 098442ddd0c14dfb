package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

func getEnv(key, defaultVal string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultVal
}

// getEnvAsLower returns the trimmed, lower-cased value of key, falling back
// to defaultVal when it is unset or blank.
func getEnvAsLower(key, defaultVal string) string {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return defaultVal
	}
	return value
}

// getSecret reads key, or the file named by key_FILE when key is unset.
func getSecret(key string) (string, error) {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value), nil
	}
	path, ok := os.LookupEnv(key + "_FILE")
	if !ok || strings.TrimSpace(path) == "" {
		return "", nil
	}
	raw, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return "", fmt.Errorf("read %s_FILE: %w", key, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func getEnvAsInt(key string, defaultVal int) int {
	if value, ok := os.LookupEnv(key); ok {
		if v, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return v
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return v
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if v, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return v
		}
	}
	return defaultVal
}

// getEnvAsDuration parses a Go duration; negative values keep the default.
func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && d >= 0 {
			return d
		}
	}
	return defaultVal
}

// getEnvAsStringSlice splits a comma separated list, dropping blanks. Hosts
// and similar identifiers can be normalised with lower.
func getEnvAsStringSlice(key string, defaults []string, lower bool) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaults
	}
	parts := strings.Split(value, ",")
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		p := strings.TrimSpace(part)
		if lower {
			p = strings.ToLower(p)
		}
		if p != "" {
			filtered = append(filtered, p)
		}
	}
	if len(filtered) == 0 {
		return defaults
	}
	return filtered
}
