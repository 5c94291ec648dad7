package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("BASE_MODEL", "claude-haiku")
	t.Setenv("BASE_PROVIDER", "anthropic")
	t.Setenv("COMPLEX_MODEL", "gpt-5")
	t.Setenv("COMPLEX_PROVIDER", "openai")
	t.Setenv("CLIENT_TIMEOUT", "5")
	t.Setenv("RECURSION_LIMIT", "8")
	t.Setenv("USE_FEEDBACK", "true")
	t.Setenv("FOOBAR_APIKEY", "secret-123")
	t.Setenv("COHERE_API_KEY", "secret-456")

	cfg, warnings := Load()
	require.Empty(t, warnings)
	require.Equal(t, "claude-haiku", cfg.BaseModel)
	require.Equal(t, "anthropic", cfg.BaseProvider)
	require.Equal(t, "gpt-5", cfg.ComplexModel)
	require.Equal(t, 5*time.Minute, cfg.Store.ClientTimeout)
	require.Equal(t, 8, cfg.RecursionLimit)
	require.True(t, cfg.UseFeedback)
	require.Equal(t, "secret-123", cfg.APIKeys["FOOBAR"])
	require.Equal(t, "secret-456", cfg.APIKeys["COHERE"])
}

func TestLoad_InvalidNumericWarns(t *testing.T) {
	t.Setenv("CLIENT_TIMEOUT", "not-a-number")
	_, warnings := Load()
	require.NotEmpty(t, warnings)
}

func TestDefault_MatchesSpecDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, DefaultRecursionLimit, cfg.RecursionLimit)
	require.Equal(t, DefaultClientTimeout, cfg.Store.ClientTimeout)
}
