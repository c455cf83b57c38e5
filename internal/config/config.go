package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the Bazaar auth service.
// It is read once at startup and never re-read at runtime.
type Config struct {
	Environment      string
	HTTPPort         int
	DatabaseURL      string
	LogLevel         string
	AllowedOrigins   []string
	FrontendURL      string
	OIDCIssuerURL    string
	OIDCClientID     string
	OIDCClientSecret string
	Domains          []string
	SessionTTL       time.Duration
}

// Load reads configuration from environment variables with sensible defaults for local development.
func Load() (Config, error) {
	clientID, err := getEnvOrFile("OIDC_CLIENT_ID", "/run/secrets/bazaar_oidc_client_id")
	if err != nil {
		return Config{}, err
	}

	clientSecret, err := getEnvOrFile("OIDC_CLIENT_SECRET", "/run/secrets/bazaar_oidc_client_secret")
	if err != nil {
		return Config{}, err
	}

	databaseURL, err := getEnvOrFile("DATABASE_URL", "/run/secrets/bazaar_database_url")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Environment:      getEnv("APP_ENV", "development"),
		DatabaseURL:      databaseURL,
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		AllowedOrigins:   parseCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:5000")),
		FrontendURL:      strings.TrimSuffix(getEnv("FRONTEND_URL", "http://localhost:5000"), "/"),
		OIDCIssuerURL:    strings.TrimSuffix(getEnv("OIDC_ISSUER_URL", ""), "/"),
		OIDCClientID:     strings.TrimSpace(clientID),
		OIDCClientSecret: strings.TrimSpace(clientSecret),
		Domains:          parseCSV(getEnv("AUTH_DOMAINS", "localhost")),
	}

	portValue := getEnv("PORT", getEnv("HTTP_PORT", "5000"))
	port, err := strconv.Atoi(portValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid port %q: %w", portValue, err)
	}
	cfg.HTTPPort = port

	ttlValue := getEnv("SESSION_TTL", "168h")
	ttl, err := time.ParseDuration(ttlValue)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SESSION_TTL %q: %w", ttlValue, err)
	}
	cfg.SessionTTL = ttl

	if cfg.OIDCIssuerURL == "" {
		return Config{}, fmt.Errorf("OIDC_ISSUER_URL is not set")
	}
	if cfg.OIDCClientID == "" {
		return Config{}, fmt.Errorf("OIDC_CLIENT_ID is not set")
	}
	if len(cfg.Domains) == 0 {
		return Config{}, fmt.Errorf("AUTH_DOMAINS is empty")
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is not set")
	}

	return cfg, nil
}

// HTTPAddress returns the address the HTTP server should bind to.
func (c Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvOrFile(key, defaultPath string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}

	fileKey := key + "_FILE"
	if path := os.Getenv(fileKey); path != "" {
		return readSecret(path, fileKey)
	}

	if defaultPath != "" {
		return readSecret(defaultPath, key)
	}

	return "", nil
}

func readSecret(path, name string) (string, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("config: reading %s (%s): %w", name, path, err)
	}

	value := strings.TrimSpace(string(contents))
	if value == "" {
		return "", fmt.Errorf("config: %s (%s) is empty", name, path)
	}
	return value, nil
}
