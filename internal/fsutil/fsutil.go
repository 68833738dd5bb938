// Package fsutil owns the file-mutation safety net for the fix workflow:
// sibling backups created before any write, atomic replacement writes, and
// restore on failure.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// BackupSuffix is appended to a file name to form its backup sibling.
const BackupSuffix = ".codetective.bak"

// WriteFileAtomic writes data to path by writing a temp file in the same
// directory and renaming it into place, so a crash mid-write never leaves a
// half-edited file. The original file's mode is preserved when it exists.
func WriteFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// BackupManager tracks the backups of one fix-workflow run. Backups belong
// exclusively to the run that created them; Cleanup or Restore must be called
// on every exit path.
type BackupManager struct {
	mu      sync.Mutex
	backups map[string]string // original path -> backup path
	created int
}

// NewBackupManager creates an empty manager.
func NewBackupManager() *BackupManager {
	return &BackupManager{backups: make(map[string]string)}
}

// Create copies path to its backup sibling and records it. Creating a second
// backup for the same path is an error: one pending backup per file is the
// invariant that keeps concurrent fix runs off each other's files.
func (m *BackupManager) Create(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.backups[path]; exists {
		return "", fmt.Errorf("backup already pending for %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s for backup: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	backupPath := path + BackupSuffix
	if err := os.WriteFile(backupPath, data, info.Mode().Perm()); err != nil {
		return "", fmt.Errorf("write backup %s: %w", backupPath, err)
	}
	m.backups[path] = backupPath
	m.created++
	return backupPath, nil
}

// Restore copies the backup back over the original, atomically, and removes
// the backup. The file ends byte-for-byte as it was before the run touched it.
func (m *BackupManager) Restore(path string) error {
	m.mu.Lock()
	backupPath, ok := m.backups[path]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no backup recorded for %s", path)
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup %s: %w", backupPath, err)
	}
	if err := WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("restore %s: %w", path, err)
	}

	m.mu.Lock()
	delete(m.backups, path)
	m.mu.Unlock()
	return os.Remove(backupPath)
}

// Cleanup deletes all recorded backups. With keep set the files stay on disk
// but are no longer tracked.
func (m *BackupManager) Cleanup(keep bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for path, backupPath := range m.backups {
		if !keep {
			if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) && firstErr == nil {
				firstErr = fmt.Errorf("remove backup %s: %w", backupPath, err)
			}
		}
		delete(m.backups, path)
	}
	return firstErr
}

// Count returns how many backups are currently pending.
func (m *BackupManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backups)
}

// Created returns how many backups this manager has made over its lifetime,
// including ones since consumed by Restore or released by Cleanup.
func (m *BackupManager) Created() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.created
}

// Has reports whether a backup is pending for path.
func (m *BackupManager) Has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.backups[path]
	return ok
}
