package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, PlatformMaxLength, cfg.Limits.MaxLength)
	assert.Equal(t, PlatformMaxLength, cfg.Limits.MaxByteLength)
	assert.Equal(t, 100, cfg.Harness.LoopCount)
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
limits:
  max_byte_length: 65536
log:
  level: debug
`))
	require.NoError(t, err)
	assert.Equal(t, uint64(65536), cfg.Limits.MaxByteLength)
	assert.Equal(t, PlatformMaxLength, cfg.Limits.MaxLength)
	assert.Equal(t, 1024, cfg.Limits.MaxChainDepth)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("limits:\n  max_lenght: 10\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidateRejectsCeilingAbovePlatform(t *testing.T) {
	_, err := Parse([]byte("limits:\n  max_byte_length: 4294967297\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_byte_length")

	_, err = Parse([]byte("limits:\n  max_length: 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_length")
}

func TestValidateLog(t *testing.T) {
	_, err := Parse([]byte("log:\n  level: loud\n"))
	require.Error(t, err)

	_, err = Parse([]byte("log:\n  format: xml\n"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arrayify.yaml")
	require.NoError(t, os.WriteFile(path, []byte("harness:\n  loop_count: 7\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Harness.LoopCount)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Log{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
}
