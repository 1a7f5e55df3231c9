package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port            string
	Node            string
	AllowedOrigins  []string
	LogLevel        string
	Ringout         time.Duration // per-call ring timer
	MediaTimeout    time.Duration // bound on outgoing media calls
	RegistryTimeout time.Duration // bound on registry calls
	FlushWindow     time.Duration // long-poll event coalescing
	LivenessWindow  time.Duration // poll silence before termination
	KeepalivePeriod time.Duration // liveness check interval
	DispatchPeriod  time.Duration // queue routing tick
	OIDCIssuer      string        // supervisor token issuer, empty disables JWKS
	AgentSeed       string        // dev agent directory, login:password:security triples
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		Node:           getEnv("NODE_NAME", "oacd@localhost"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		OIDCIssuer:     getEnv("OIDC_ISSUER", ""),
		AgentSeed:      getEnv("AGENT_SEED", ""),
	}

	var err error
	if config.Ringout, err = getSeconds("DEFAULT_RINGOUT", 30); err != nil {
		return nil, err
	}
	if config.MediaTimeout, err = getSeconds("MEDIA_CALL_TIMEOUT", 5); err != nil {
		return nil, err
	}
	if config.RegistryTimeout, err = getSeconds("REGISTRY_CALL_TIMEOUT", 5); err != nil {
		return nil, err
	}
	if config.LivenessWindow, err = getSeconds("POLL_LIVENESS_WINDOW", 20); err != nil {
		return nil, err
	}
	if config.KeepalivePeriod, err = getSeconds("POLL_KEEPALIVE_PERIOD", 11); err != nil {
		return nil, err
	}
	if config.DispatchPeriod, err = getSeconds("QUEUE_DISPATCH_PERIOD", 1); err != nil {
		return nil, err
	}

	flushMs, err := strconv.Atoi(getEnv("POLL_FLUSH_MS", "500"))
	if err != nil {
		return nil, fmt.Errorf("invalid POLL_FLUSH_MS: %w", err)
	}
	config.FlushWindow = time.Duration(flushMs) * time.Millisecond

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

func getSeconds(key string, def int) (time.Duration, error) {
	raw := getEnv(key, strconv.Itoa(def))
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(secs) * time.Second, nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
