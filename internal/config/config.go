package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServerPort  string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	JWTExpiry   time.Duration

	// BallotKey encrypts anonymous ballots. Hex-encoded, 32 bytes once
	// decoded. Required: anonymous votes are refused without it.
	BallotKey []byte

	DebounceWindow       time.Duration
	QueueMaxItems        int
	QueueMaxRetries      int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int
	HeartbeatInterval    time.Duration
	QuorumFraction       float64
}

func LoadConfig() (*Config, error) {
	expiry, err := time.ParseDuration(getEnv("JWT_EXPIRY", "24h"))
	if err != nil {
		return nil, errors.New("invalid JWT_EXPIRY format")
	}
	debounce, err := time.ParseDuration(getEnv("SYNC_DEBOUNCE_WINDOW", "300ms"))
	if err != nil {
		return nil, errors.New("invalid SYNC_DEBOUNCE_WINDOW format")
	}
	baseDelay, err := time.ParseDuration(getEnv("RECONNECT_BASE_DELAY", "500ms"))
	if err != nil {
		return nil, errors.New("invalid RECONNECT_BASE_DELAY format")
	}
	heartbeat, err := time.ParseDuration(getEnv("HEARTBEAT_INTERVAL", "30s"))
	if err != nil {
		return nil, errors.New("invalid HEARTBEAT_INTERVAL format")
	}

	queueMax, err := getEnvInt("QUEUE_MAX_ITEMS", 100)
	if err != nil {
		return nil, err
	}
	maxRetries, err := getEnvInt("QUEUE_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := getEnvInt("RECONNECT_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}

	quorum, err := strconv.ParseFloat(getEnv("QUORUM_FRACTION", "0.5"), 64)
	if err != nil || quorum <= 0 || quorum > 1 {
		return nil, errors.New("QUORUM_FRACTION must be a fraction in (0, 1]")
	}

	var ballotKey []byte
	if raw := os.Getenv("BALLOT_KEY"); raw != "" {
		ballotKey, err = hex.DecodeString(raw)
		if err != nil {
			return nil, errors.New("BALLOT_KEY must be hex-encoded")
		}
		if len(ballotKey) != 32 {
			return nil, errors.New("BALLOT_KEY must decode to 32 bytes")
		}
	}

	cfg := &Config{
		ServerPort:           getEnv("SERVER_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisURL:             os.Getenv("REDIS_URL"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		JWTExpiry:            expiry,
		BallotKey:            ballotKey,
		DebounceWindow:       debounce,
		QueueMaxItems:        queueMax,
		QueueMaxRetries:      maxRetries,
		ReconnectBaseDelay:   baseDelay,
		ReconnectMaxAttempts: maxAttempts,
		HeartbeatInterval:    heartbeat,
		QuorumFraction:       quorum,
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return value, nil
}
