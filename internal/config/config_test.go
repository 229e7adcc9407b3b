package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHashKey = "0123456789abcdef0123456789abcdef"

func baseEnv() map[string]string {
	return map[string]string{
		"STOREFRONT_BACKEND_URL":      "https://api.yesbuy.test/",
		"STOREFRONT_SESSION_HASH_KEY": testHashKey,
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(baseEnv()))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "https://api.yesbuy.test", cfg.Backend.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "test", cfg.Easebuzz.Env)
	assert.False(t, cfg.Easebuzz.IsProduction())
	assert.Equal(t, 2*time.Second, cfg.Easebuzz.ProbeDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.Easebuzz.ProbeInterval)
	assert.Equal(t, 10, cfg.Easebuzz.ProbeAttempts)
	assert.NotEmpty(t, cfg.Easebuzz.SDKURLs)
	assert.Equal(t, "memory", cfg.Intents.Driver)
}

func TestLoadPrecedenceDotEnvThenMap(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "export STOREFRONT_PORT=9000\nSTOREFRONT_EASEBUZZ_ENV='production'\n# comment\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))

	env := baseEnv()
	env["STOREFRONT_PORT"] = "9100"
	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(envPath), WithEnvMap(env))
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.True(t, cfg.Easebuzz.IsProduction())
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	env := baseEnv()
	env["STOREFRONT_EASEBUZZ_SALT"] = "sm://easebuzz-salt"
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "secret://easebuzz-salt" {
			return "", errors.New("unexpected ref " + ref)
		}
		return "salty", nil
	})

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env), WithSecretResolver(resolver))
	require.NoError(t, err)
	assert.Equal(t, "salty", cfg.Easebuzz.Salt)
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := baseEnv()
	env["STOREFRONT_STRIPE_API_KEY"] = "secret://stripe"

	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))
	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	assert.Equal(t, "secret://stripe", secretErr.Ref)
	assert.ErrorIs(t, err, errSecretResolverNotConfigured)
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_SESSION_BLOCK_KEY": "short",
		"STOREFRONT_INTENT_DRIVER":     "postgres",
	}
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.ElementsMatch(t, []string{"Backend.BaseURL", "Session.HashKey", "Session.BlockKey", "Intents.DSN"}, validation.Fields())
}

func TestLookupUsesSamePrecedence(t *testing.T) {
	value := Lookup("STOREFRONT_SECRETS_PROJECT", WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{
		"STOREFRONT_SECRETS_PROJECT": "yesbuy-prod",
	}))
	assert.Equal(t, "yesbuy-prod", value)
}
