package config

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/boardsync_test")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("JWT_SECRET", "test-secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 300*time.Millisecond, cfg.DebounceWindow)
	assert.Equal(t, 100, cfg.QueueMaxItems)
	assert.Equal(t, 3, cfg.QueueMaxRetries)
	assert.Equal(t, 5, cfg.ReconnectMaxAttempts)
	assert.Equal(t, 0.5, cfg.QuorumFraction)
	assert.Nil(t, cfg.BallotKey, "ballot key is opt-in")
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadConfig_BallotKey(t *testing.T) {
	setRequired(t)

	t.Setenv("BALLOT_KEY", "not-hex")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("BALLOT_KEY", hex.EncodeToString(make([]byte, 16)))
	_, err = LoadConfig()
	require.Error(t, err, "short keys are rejected")

	t.Setenv("BALLOT_KEY", hex.EncodeToString(make([]byte, 32)))
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Len(t, cfg.BallotKey, 32)
}

func TestLoadConfig_InvalidTunables(t *testing.T) {
	setRequired(t)

	t.Setenv("QUORUM_FRACTION", "1.5")
	_, err := LoadConfig()
	require.Error(t, err)
	t.Setenv("QUORUM_FRACTION", "")

	t.Setenv("QUEUE_MAX_ITEMS", "-2")
	_, err = LoadConfig()
	require.Error(t, err)
}
