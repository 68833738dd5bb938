// Package report persists scan result documents. Saves are atomic and
// private to the owner; loads are size-capped and sanity-checked, since fix
// runs consume documents that may have been edited by hand.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/Eng-Elias/codetective/internal/fsutil"
	"github.com/Eng-Elias/codetective/internal/models"
)

// maxDocumentSize caps loaded documents. A result file past this size is not
// something a fix run should trust.
const maxDocumentSize = 64 * 1024 * 1024

// ErrMalformed reports a result document that parsed but fails the schema
// sanity checks, or did not parse at all.
var ErrMalformed = errors.New("malformed result document")

// Save writes the document atomically with owner-only permissions. The total
// is recomputed before writing so a stale count never persists.
func Save(path string, result *models.ScanResult) error {
	if path == "" {
		return errors.New("result path is required")
	}
	if result == nil {
		return errors.New("result is required")
	}
	result.RecomputeTotal()

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result document: %w", err)
	}
	data = append(data, '\n')

	if err := fsutil.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("write result document: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restrict result document permissions: %w", err)
	}
	return nil
}

// Load reads and validates a document. The returned result always carries a
// recomputed total.
func Load(path string) (*models.ScanResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat result document: %w", err)
	}
	if info.Size() > maxDocumentSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d",
			ErrMalformed, path, info.Size(), maxDocumentSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result document: %w", err)
	}

	var result models.ScanResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &result, nil
}
