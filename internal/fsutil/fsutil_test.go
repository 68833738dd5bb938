package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestWriteFileAtomic(t *testing.T) {
	t.Run("replaces content", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "f.py", "old")

		require.NoError(t, WriteFileAtomic(path, []byte("new")))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "new", string(data))
	})

	t.Run("preserves mode", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "f.sh", "#!/bin/sh\n")
		require.NoError(t, os.Chmod(path, 0755))

		require.NoError(t, WriteFileAtomic(path, []byte("#!/bin/sh\necho hi\n")))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
	})

	t.Run("creates new file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "fresh.txt")
		require.NoError(t, WriteFileAtomic(path, []byte("data")))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "data", string(data))
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "f.txt", "x")
		require.NoError(t, WriteFileAtomic(path, []byte("y")))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func TestBackupManager(t *testing.T) {
	t.Run("create and cleanup", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "f.py", "content")

		m := NewBackupManager()
		backupPath, err := m.Create(path)
		require.NoError(t, err)
		assert.Equal(t, path+BackupSuffix, backupPath)
		assert.FileExists(t, backupPath)
		assert.Equal(t, 1, m.Count())
		assert.True(t, m.Has(path))

		require.NoError(t, m.Cleanup(false))
		assert.NoFileExists(t, backupPath)
		assert.Equal(t, 0, m.Count())
	})

	t.Run("cleanup with keep retains files", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "f.py", "content")

		m := NewBackupManager()
		backupPath, err := m.Create(path)
		require.NoError(t, err)

		require.NoError(t, m.Cleanup(true))
		assert.FileExists(t, backupPath)
	})

	t.Run("restore brings original bytes back", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "f.py", "original")

		m := NewBackupManager()
		_, err := m.Create(path)
		require.NoError(t, err)

		require.NoError(t, os.WriteFile(path, []byte("mangled"), 0644))
		require.NoError(t, m.Restore(path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "original", string(data))
		assert.NoFileExists(t, path+BackupSuffix)

		// Restore consumes the pending entry but the backup still counts as
		// created in this run.
		assert.Equal(t, 0, m.Count())
		assert.Equal(t, 1, m.Created())
	})

	t.Run("double create is rejected", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "f.py", "x")

		m := NewBackupManager()
		_, err := m.Create(path)
		require.NoError(t, err)
		_, err = m.Create(path)
		assert.Error(t, err)
	})

	t.Run("restore without backup errors", func(t *testing.T) {
		m := NewBackupManager()
		assert.Error(t, m.Restore("/nonexistent"))
	})

	t.Run("backup of missing file errors", func(t *testing.T) {
		m := NewBackupManager()
		_, err := m.Create(filepath.Join(t.TempDir(), "missing.py"))
		assert.Error(t, err)
	})
}
