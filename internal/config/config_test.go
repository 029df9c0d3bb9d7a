package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	m, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "ask", m.String(KeyReplay, "auto"))
	assert.Equal(t, 4096, m.Int(KeyBuffer, 1))
	assert.Equal(t, "http://api.scrollspost.com", m.String(KeyAPIURL, ""))
	assert.Equal(t, 60*time.Second, m.Duration(KeyUploadTimeout, time.Second))
	assert.Empty(t, m.ConfigFileUsed())
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := "replay: auto\nbuffer: 8192\napi_url: http://127.0.0.1:9000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scrollspost.yaml"), []byte(content), 0644))

	m, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "auto", m.String(KeyReplay, "ask"))
	assert.Equal(t, 8192, m.Int(KeyBuffer, 4096))
	assert.Equal(t, "http://127.0.0.1:9000", m.String(KeyAPIURL, ""))
	assert.NotEmpty(t, m.ConfigFileUsed())
}

func TestLoadRejectsMalformedConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scrollspost.yaml"), []byte("replay: [unclosed"), 0644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestFallbacksForUnknownKeys(t *testing.T) {
	m, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "fallback", m.String("no_such_key", "fallback"))
	assert.Equal(t, 7, m.Int("no_such_key", 7))
	assert.Equal(t, time.Minute, m.Duration("no_such_key", time.Minute))
}

func TestSetOverridesValue(t *testing.T) {
	m, err := Load(t.TempDir())
	require.NoError(t, err)

	m.Set(KeyReplay, "manual")
	assert.Equal(t, "manual", m.String(KeyReplay, "ask"))
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("SP_REPLAY", "auto")

	m, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "auto", m.String(KeyReplay, "ask"))
}
