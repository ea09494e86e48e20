package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/estimate/go/internal/room"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "STORE", "FEED", "NATS_URL", "REDIS_URL", "SESSION_TTL",
		"SHARE_BASE_URL", "POLICY_FILE", "MAX_CODE_ATTEMPTS", "REJOIN_POLICY",
	} {
		t.Setenv(key, "")
	}
}

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, "http://localhost:8080", cfg.ShareBaseURL)

	sc, err := cfg.Policy.sessionConfig()
	require.NoError(t, err)
	assert.Equal(t, room.RejoinKeepVote, sc.Rejoin)
	assert.Equal(t, room.DefaultDirectoryConfig(), cfg.Policy.directoryConfig())
	assert.Equal(t, 10*time.Second, cfg.Policy.StoreTimeout)
}

func TestLoadConfigPolicyFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("POLICY_FILE", writePolicy(t, `
rejoin: reset_vote
unique_codes: false
store_timeout: 3s
`))
	t.Setenv("SESSION_TTL", "30m")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 3*time.Second, cfg.Policy.StoreTimeout)

	dc := cfg.Policy.directoryConfig()
	assert.False(t, dc.UniqueCodes)
	assert.Equal(t, 5, dc.MaxCodeAttempts)

	sc, err := cfg.Policy.sessionConfig()
	require.NoError(t, err)
	assert.Equal(t, room.RejoinResetVote, sc.Rejoin)
}

func TestLoadConfigEnvOverridesPolicy(t *testing.T) {
	clearEnv(t)
	t.Setenv("POLICY_FILE", writePolicy(t, "max_code_attempts: 2\n"))
	t.Setenv("MAX_CODE_ATTEMPTS", "9")
	t.Setenv("REJOIN_POLICY", "reset_vote")

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Policy.directoryConfig().MaxCodeAttempts)
	assert.True(t, cfg.Policy.directoryConfig().UniqueCodes)
	assert.Equal(t, "reset_vote", cfg.Policy.Rejoin)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown store", env: map[string]string{"STORE": "sqlite"}},
		{name: "unknown feed", env: map[string]string{"FEED": "kafka"}},
		{name: "unknown rejoin policy", env: map[string]string{"REJOIN_POLICY": "sometimes"}},
		{name: "missing policy file", env: map[string]string{"POLICY_FILE": "/nonexistent/policy.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig()
			require.Error(t, err)
		})
	}
}

func TestLoadPolicyRejectsBadYAML(t *testing.T) {
	_, err := loadPolicy(writePolicy(t, "store_timeout: [not, a, duration]\n"))
	require.Error(t, err)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("SOME_INT", "nope")
	t.Setenv("SOME_DURATION", "90s")
	assert.Equal(t, 7, getEnvAsInt("SOME_INT", 7))
	assert.Equal(t, 90*time.Second, getEnvAsDuration("SOME_DURATION", time.Second))
	assert.Equal(t, "fallback", getEnv("SOME_UNSET_KEY", "fallback"))
}
