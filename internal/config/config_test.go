package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5001", cfg.Server.Addr)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL())
	assert.Equal(t, 270*time.Second, cfg.TokenTTL())
	assert.Equal(t, time.Hour, cfg.SessionIdle())
	assert.Equal(t, time.Minute, cfg.SATTimeout())
	assert.True(t, cfg.SAT.Issued301AsEmpty)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CFDI_SERVER_ADDR", ":8080")
	t.Setenv("CFDI_CORS_ALLOWEDORIGINS", "https://a.example, https://b.example")
	t.Setenv("CFDI_SAT_ISSUED301ASEMPTY", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.False(t, cfg.SAT.Issued301AsEmpty)
}

func TestLoad_DotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"# comment\nCFDI_LOG_LEVEL=\"debug\"\nCFDI_SERVER_ADDR=:9000\n"), 0o600))
	t.Setenv("CFDI_SERVER_ADDR", ":7000")
	t.Setenv("CFDI_LOG_LEVEL", "")
	os.Unsetenv("CFDI_LOG_LEVEL")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestMasterKey(t *testing.T) {
	var cfg Config
	key, err := cfg.MasterKey()
	require.NoError(t, err)
	assert.Nil(t, key)

	raw := make([]byte, 32)
	cfg.Security.MasterKey = base64.StdEncoding.EncodeToString(raw)
	key, err = cfg.MasterKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	cfg.Security.MasterKey = base64.StdEncoding.EncodeToString(raw[:16])
	_, err = cfg.MasterKey()
	assert.Error(t, err)

	cfg.Security.MasterKey = "%%%"
	_, err = cfg.MasterKey()
	assert.Error(t, err)
}
