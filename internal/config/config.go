// Package config loads the library service's configuration: a required
// library root path, an optional user-header requirement flag, and an
// optional service token, sourced from the process environment with a
// co-located .env file as fallback, backed by a viper instance per Load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	keyLibraryPath        = "BRAINDRIVE_LIBRARY_PATH"
	keyRequireUserHeader  = "BRAINDRIVE_LIBRARY_REQUIRE_USER_HEADER"
	keyServiceToken       = "BRAINDRIVE_LIBRARY_SERVICE_TOKEN"
	keyBaseTemplatePath   = "BRAINDRIVE_LIBRARY_BASE_TEMPLATE_PATH"
	keyOperationalLogPath = "BRAINDRIVE_LIBRARY_LOG_PATH"
	defaultRequireUser    = true
)

// Config is the resolved, validated configuration for one process.
type Config struct {
	LibraryPath        string
	RequireUserHeader  bool
	ServiceToken       string
	BaseTemplatePath   string
	OperationalLogPath string

	v *viper.Viper
}

// ValueSource reports which layer satisfied a given key: explicit
// environment variable, the .env fallback, or the built-in default.
func (c *Config) ValueSource(key string) string {
	if _, ok := os.LookupEnv(key); ok {
		return "environment"
	}
	if c.v != nil && c.v.IsSet(strings.ToLower(key)) {
		return "dotenv"
	}
	return "default"
}

// Load resolves configuration for the process rooted at cwd. A .env file
// in cwd, if present, seeds viper defaults without mutating the process
// environment; explicit environment variables always take precedence.
func Load(cwd string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	dotenvPath := filepath.Join(cwd, ".env")
	if values, err := godotenv.Read(dotenvPath); err == nil {
		for key, value := range values {
			v.SetDefault(strings.ToLower(key), value)
		}
	}

	rawPath := strings.TrimSpace(firstNonEmpty(os.Getenv(keyLibraryPath), v.GetString(strings.ToLower(keyLibraryPath))))
	if rawPath == "" {
		return nil, fmt.Errorf("%s is required; set it to the library root path", keyLibraryPath)
	}

	requireHeader := defaultRequireUser
	if raw := firstNonEmpty(os.Getenv(keyRequireUserHeader), v.GetString(strings.ToLower(keyRequireUserHeader))); raw != "" {
		parsed, err := parseBool(raw, keyRequireUserHeader)
		if err != nil {
			return nil, err
		}
		requireHeader = parsed
	}

	serviceToken := strings.TrimSpace(firstNonEmpty(os.Getenv(keyServiceToken), v.GetString(strings.ToLower(keyServiceToken))))

	return &Config{
		LibraryPath:        rawPath,
		RequireUserHeader:  requireHeader,
		ServiceToken:       serviceToken,
		BaseTemplatePath:   strings.TrimSpace(firstNonEmpty(os.Getenv(keyBaseTemplatePath), v.GetString(strings.ToLower(keyBaseTemplatePath)))),
		OperationalLogPath: strings.TrimSpace(firstNonEmpty(os.Getenv(keyOperationalLogPath), v.GetString(strings.ToLower(keyOperationalLogPath)))),
		v:                  v,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func parseBool(raw, key string) (bool, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	switch normalized {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	case "":
		return defaultRequireUser, nil
	}
	return false, fmt.Errorf("%s must be a boolean value", key)
}
