package autoconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func readFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestFileCommitter_Commit(t *testing.T) {
	configDir, runDir := t.TempDir(), t.TempDir()
	fc := newFileCommitter(zap.NewNop().Sugar(), configDir, runDir, true, false)

	require.NoError(t, fc.Commit([]byte("first\n"), []byte("playback.a2dp x\n")))
	require.NoError(t, fc.Commit([]byte("second\n"), nil))

	assert.Equal(t, "second\n", readFile(t, filepath.Join(configDir, configFilename)))
	assert.Empty(t, readFile(t, filepath.Join(runDir, defaultsFilename)), "defaults follow the graph, even when empty")
	assert.NoFileExists(t, filepath.Join(configDir, stagingFilename))
}

func TestFileCommitter_WithoutDefaults(t *testing.T) {
	configDir, runDir := t.TempDir(), t.TempDir()
	fc := newFileCommitter(zap.NewNop().Sugar(), configDir, runDir, false, false)

	require.NoError(t, fc.Commit([]byte("hints\n"), []byte("ignored\n")))
	assert.NoFileExists(t, filepath.Join(runDir, defaultsFilename))
}

func TestFileCommitter_StagingFailureKeepsLiveFile(t *testing.T) {
	configDir := t.TempDir()
	fc := newFileCommitter(zap.NewNop().Sugar(), configDir, t.TempDir(), false, false)
	require.NoError(t, fc.Commit([]byte("live\n"), nil))

	// a directory in place of the staging file makes the write fail
	require.NoError(t, os.Mkdir(filepath.Join(configDir, stagingFilename), 0o755))

	assert.Error(t, fc.Commit([]byte("lost\n"), nil))
	assert.Equal(t, "live\n", readFile(t, filepath.Join(configDir, configFilename)))
}

func TestFileCommitter_UdevTrigger(t *testing.T) {
	fc := newFileCommitter(zap.NewNop().Sugar(), t.TempDir(), t.TempDir(), false, true)

	uevent := filepath.Join(t.TempDir(), "uevent")
	require.NoError(t, os.WriteFile(uevent, nil, 0o644))
	fc.ueventPath = uevent

	require.NoError(t, fc.Commit([]byte("hints\n"), nil))
	assert.Equal(t, "change", readFile(t, uevent))

	fc.ueventPath = filepath.Join(t.TempDir(), "missing", "uevent")
	require.NoError(t, fc.Commit([]byte("hints\n"), nil), "udev failures do not fail the commit")
	assert.Empty(t, fc.ueventPath, "trigger disabled after a failure")
}

func TestFileCommitter_DefaultsFailureStillCommits(t *testing.T) {
	configDir, runDir := t.TempDir(), t.TempDir()
	fc := newFileCommitter(zap.NewNop().Sugar(), configDir, runDir, true, false)

	// a directory in place of the defaults file makes its write fail
	require.NoError(t, os.Mkdir(filepath.Join(runDir, defaultsFilename), 0o755))

	require.NoError(t, fc.Commit([]byte("hints\n"), []byte("playback.a2dp x\n")))
	assert.Equal(t, "hints\n", readFile(t, filepath.Join(configDir, configFilename)))
	assert.NoFileExists(t, filepath.Join(configDir, stagingFilename))
}
