package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir changes into dir for the test and restores the working directory after.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(prev) })
}

// clearDatabaseURL unsets DATABASE_URL for the test and restores it after.
func clearDatabaseURL(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")
}

func TestLoadConfigDefaults(t *testing.T) {
	clearDatabaseURL(t)
	chdir(t, t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/blobs", cfg.Blob.Root)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.ChatModel)
	assert.Equal(t, "whisper-1", cfg.OpenAI.TranscribeModel)
}

func TestLoadConfigTOML(t *testing.T) {
	clearDatabaseURL(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "voxpost.toml")
	require.NoError(t, os.WriteFile(path, []byte(
		"[server]\nport = 9090\n\n[database]\nurl = \"postgres://db/voxpost\"\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres://db/voxpost", cfg.Database.URL)
	// Untouched keys keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	clearDatabaseURL(t)
	chdir(t, t.TempDir())
	t.Setenv("VOXPOST_SERVER__PORT", "7070")
	t.Setenv("VOXPOST_WHATSAPP__PHONE_NUMBER_ID", "555")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "555", cfg.Whatsapp.PhoneNumberID)
}

func TestDatabaseURLFromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://env/voxpost")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/voxpost", cfg.Database.URL)
}

func TestDatabaseURLFromDotEnv(t *testing.T) {
	clearDatabaseURL(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("DATABASE_URL=postgres://dotenv/voxpost\n"), 0o644))
	sub := filepath.Join(dir, "nested", "deeper")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	chdir(t, sub)

	// The .env two directories up is found by walking towards the root.
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://dotenv/voxpost", cfg.Database.URL)
}

func TestConfiguredDatabaseURLWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env/voxpost")
	dir := t.TempDir()
	path := filepath.Join(dir, "voxpost.toml")
	require.NoError(t, os.WriteFile(path, []byte(
		"[database]\nurl = \"postgres://configured/voxpost\"\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://configured/voxpost", cfg.Database.URL)
}

func validConfig() *Config {
	cfg := &Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080
	cfg.Database.URL = "postgres://localhost/voxpost"
	cfg.Blob.Root = "data/blobs"
	cfg.Telegram.Token = "bot-token"
	cfg.OpenAI.APIKey = "sk-test"
	cfg.Post.ClientID = "cid"
	cfg.Post.ClientSecret = "secret"
	cfg.Post.OrganisationID = "org-1"
	cfg.Payments.WebhookSecret = "whsec_test"
	cfg.Payments.LinkSingle.URL = "https://pay.example/one"
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("accepts a complete config", func(t *testing.T) {
		assert.NoError(t, Validate(validConfig()))
	})

	t.Run("rejects missing database url", func(t *testing.T) {
		cfg := validConfig()
		cfg.Database.URL = ""
		assert.ErrorContains(t, Validate(cfg), "database url")
	})

	t.Run("rejects out-of-range port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = 70000
		assert.ErrorContains(t, Validate(cfg), "out of range")
	})

	t.Run("requires at least one platform", func(t *testing.T) {
		cfg := validConfig()
		cfg.Telegram.Token = ""
		assert.ErrorContains(t, Validate(cfg), "messaging platform")
	})

	t.Run("requires whatsapp identifiers when enabled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Whatsapp.Token = "cloud-token"
		assert.ErrorContains(t, Validate(cfg), "phone_number_id")
		cfg.Whatsapp.PhoneNumberID = "555"
		assert.ErrorContains(t, Validate(cfg), "verify_token")
	})
}
