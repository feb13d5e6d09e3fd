package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("REDIS_ADDR", "redis://cache:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, 24*time.Hour, cfg.RuntimeTTL)
	assert.Equal(t, 300, cfg.MessageMaxLen)
	assert.True(t, cfg.RejoinResetsScore)
	assert.False(t, cfg.IsDevelopment())
}

func TestValidateRequiresSecrets(t *testing.T) {
	cfg := &Config{MongoURI: "mongodb://localhost"}
	errs := cfg.Validate()
	assert.ElementsMatch(t, []error{ErrMissingAccessSecret, ErrMissingGuestSecret}, errs)

	cfg.AccessTokenSecret = "a"
	cfg.GuestTokenSecret = "b"
	assert.Empty(t, cfg.Validate())
}
