package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", "")
	t.Setenv("VITE_CONTRACT_ADDRESS", "")
	t.Setenv("SIGNER_KEYS", "")

	cfg := FromEnv()
	assert.False(t, cfg.ContractConfigured())
	assert.Equal(t, "8081", cfg.HTTPPort)
	assert.Equal(t, "memory", cfg.QueueBackend)
	assert.Equal(t, 4, cfg.DetailConcurrency)
	assert.Equal(t, time.Duration(0), cfg.CallTimeout)
	assert.Empty(t, cfg.SignerKeys)
	assert.Empty(t, cfg.Warnings)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CONTRACT_ADDRESS", "")
	t.Setenv("VITE_CONTRACT_ADDRESS", "0xabc")
	t.Setenv("SIGNER_KEYS", " k1, ,k2 ")
	t.Setenv("SESSION_TTL", "1h")
	t.Setenv("DETAIL_CONCURRENCY", "many")
	t.Setenv("CALL_TIMEOUT", "soon")

	cfg := FromEnv()
	assert.True(t, cfg.ContractConfigured())
	assert.Equal(t, "0xabc", cfg.ContractAddress)
	assert.Equal(t, []string{"k1", "k2"}, cfg.SignerKeys)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 4, cfg.DetailConcurrency)
	assert.Len(t, cfg.Warnings, 2)
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, ".env.local")
	shared := filepath.Join(dir, ".env")
	assert.NoError(t, os.WriteFile(local, []byte("CONTRACT_ADDRESS=0xlocal\n"), 0o600))
	assert.NoError(t, os.WriteFile(shared, []byte("CONTRACT_ADDRESS=0xshared\nHTTP_PORT=9999\n"), 0o600))

	orig := EnvFiles
	EnvFiles = []string{local, shared, filepath.Join(dir, "missing")}
	defer func() { EnvFiles = orig }()

	t.Setenv("CONTRACT_ADDRESS", "")
	t.Setenv("HTTP_PORT", "")
	os.Unsetenv("CONTRACT_ADDRESS")
	os.Unsetenv("HTTP_PORT")

	cfg := Load()
	assert.Equal(t, "0xlocal", cfg.ContractAddress)
	assert.Equal(t, "9999", cfg.HTTPPort)
}
