package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDirExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs", "nested")

	require.NoError(t, EnsureDirExists(dir))
	require.NoError(t, EnsureDirExists(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("device:\n  kind: demo\n"), 0644))

	assert.True(t, FileExists(file))
	assert.False(t, FileExists(dir), "directories are not files")
	assert.False(t, FileExists(filepath.Join(dir, "missing.yaml")))
}

func TestPlatformDefaults(t *testing.T) {
	assert.NotEmpty(t, DefaultSerialPort())
	assert.NotEmpty(t, DefaultEditor())
}
