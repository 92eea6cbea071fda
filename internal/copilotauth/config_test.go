package copilotauth

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "GITHUB_COPILOT_TOKEN", cfg.TokenEnv)
	assert.Equal(t, "https://api.github.com/copilot_internal/v2/token", cfg.TokenEndpoint)
	assert.Equal(t, 30*time.Second, cfg.RefreshMargin.Duration)
	assert.Equal(t, DefaultSession(), cfg.Session)
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
listen: ":9000"
log_level: debug
token_env: MY_COPILOT_PAT
request_timeout: 15
refresh_margin: 1m
session:
  version: 9.9.9
users:
  - name: alice
    token: alice-local-token-0001
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "MY_COPILOT_PAT", cfg.TokenEnv)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout.Duration)
	assert.Equal(t, time.Minute, cfg.RefreshMargin.Duration)
	assert.Equal(t, "9.9.9", cfg.Session.Version)
	assert.Equal(t, defaultIntegrationID, cfg.Session.IntegrationID)
	assert.Equal(t, defaultProduct, cfg.Session.Product)
	require.Len(t, cfg.Users, 1)
	assert.Equal(t, "alice", cfg.Users[0].Name)
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfigFile(t, "config.json", `{
		"token_endpoint": "http://127.0.0.1:1234/token",
		"request_timeout": "5s",
		"session": {"integration_id": "vscode-chat"}
	}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:1234/token", cfg.TokenEndpoint)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout.Duration)
	assert.Equal(t, "vscode-chat", cfg.Session.IntegrationID)
	assert.Equal(t, Version, cfg.Session.Version)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"Relative Token Endpoint", "token_endpoint: /token\n"},
		{"Negative Margin", "refresh_margin: -5s\n"},
		{"Short User Token", "users:\n  - name: bob\n    token: short\n"},
		{"Duplicate User Token", "users:\n  - name: a\n    token: same-token-0000000\n  - name: b\n    token: same-token-0000000\n"},
		{"Bad Duration", "request_timeout: forever\n"},
		{"Unknown Log Level", "log_level: chatty\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfigFile(t, "config.yaml", tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigLogLevelAnyCase(t *testing.T) {
	cfg, err := LoadConfig(writeConfigFile(t, "config.yaml", "log_level: WARN\n"))
	require.NoError(t, err)

	logger, err := NewLogger(cfg.LogLevel)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestPersonalTokenReadsConfiguredVariable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenEnv = "COPILOT_AUTH_TEST_PAT"

	t.Setenv("COPILOT_AUTH_TEST_PAT", "ghu_from_env")
	assert.Equal(t, "ghu_from_env", cfg.PersonalToken())

	t.Setenv("COPILOT_AUTH_TEST_PAT", "")
	assert.Empty(t, cfg.PersonalToken())
}

func TestNewHeaderCacheFromConfigWithoutToken(t *testing.T) {
	server, calls := newTokenServer(t, 200, `{"token":"abc123","expires_at":"2099-01-01T00:00:00Z"}`)

	cfg := DefaultConfig()
	cfg.TokenEnv = "COPILOT_AUTH_TEST_PAT"
	cfg.TokenEndpoint = server.URL
	t.Setenv("COPILOT_AUTH_TEST_PAT", "")

	cache, err := NewHeaderCacheFromConfig(cfg, nil, nil)
	require.NoError(t, err)

	_, err = cache.Headers(context.Background())
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "COPILOT_AUTH_TEST_PAT", cfgErr.Variable)
	assert.Equal(t, int32(0), calls.Load())
}

func TestNewHeaderCacheFromConfigWithToken(t *testing.T) {
	server, _ := newTokenServer(t, 200, `{"token":"abc123","expires_at":"2099-01-01T00:00:00Z"}`)

	cfg := DefaultConfig()
	cfg.TokenEnv = "COPILOT_AUTH_TEST_PAT"
	cfg.TokenEndpoint = server.URL
	t.Setenv("COPILOT_AUTH_TEST_PAT", "ghu_from_env")

	cache, err := NewHeaderCacheFromConfig(cfg, nil, nil)
	require.NoError(t, err)

	auth, err := cache.AuthorizationHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc123", auth)
}
