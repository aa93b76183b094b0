package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapSettings map[string]string

func (m mapSettings) GetSetting(key string) (string, error) {
	return m[key], nil
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/accounts/login", cfg.LoginPath())
	assert.Equal(t, "/", cfg.LoginRedirectPath())
	assert.Equal(t, "/accounts/logout", cfg.LogoutPath())
	assert.Equal(t, "0.0.0.0:8000", cfg.Addr())
}

func TestLoad_EnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CLUBINHO_PORT=9000\nCONTACT_EMAIL=turma@example.com\nLOGIN_REDIRECT_URL=dashboard\nADMIN_SUBNETS=10.0.0.0/8, 192.168.0.0/16\n"), 0o644))

	// godotenv never overrides variables already present, so clear them afterwards
	t.Cleanup(func() {
		for _, k := range []string{"CLUBINHO_PORT", "CONTACT_EMAIL", "LOGIN_REDIRECT_URL", "ADMIN_SUBNETS"} {
			os.Unsetenv(k)
		}
	})

	cfg, err := Load(envFile)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "turma@example.com", cfg.ContactEmail)
	assert.Equal(t, "/accounts/dashboard", cfg.LoginRedirectPath())
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, cfg.AdminSubnets)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown route", mutate: func(c *Config) { c.LoginURL = "nowhere" }},
		{name: "bad email backend", mutate: func(c *Config) { c.EmailBackend = "carrier-pigeon" }},
		{name: "smtp without host", mutate: func(c *Config) { c.EmailBackend = EmailSMTP }},
		{name: "s3 without bucket", mutate: func(c *Config) { c.MediaBackend = MediaS3 }},
		{name: "bad contact email", mutate: func(c *Config) { c.ContactEmail = "not-an-email" }},
		{name: "short secret", mutate: func(c *Config) { c.SecretKey = "short" }},
		{name: "bad subnet", mutate: func(c *Config) { c.AdminSubnets = []string{"10.0.0.1"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoader(t *testing.T) {
	loader := NewLoader(mapSettings{
		"enrollment.auto_approve": "false",
		"site.name":               "Clubinho",
		"auth.session_ttl":        "24h",
		"log.max_backups":         "abc",
	})

	assert.False(t, loader.Bool("enrollment.auto_approve", true))
	assert.True(t, loader.Bool("missing", true))
	assert.True(t, loader.Bool("log.max_backups", true))
	assert.Equal(t, "Clubinho", loader.String("site.name", "x"))
	assert.Equal(t, 24*time.Hour, loader.Duration("auth.session_ttl", time.Hour))
	assert.Equal(t, 5, loader.Int("log.max_backups", 5))
}

func TestTimeouts(t *testing.T) {
	prev := GetTimeouts()
	t.Cleanup(func() { SetGlobalTimeouts(prev) })

	custom := DefaultTimeoutConfig()
	custom.Request = time.Minute
	SetGlobalTimeouts(custom)
	assert.Equal(t, time.Minute, GetTimeouts().Request)
}
