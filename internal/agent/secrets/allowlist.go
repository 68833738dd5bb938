package secrets

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

var (
	ErrInvalidTOML  = errors.New("invalid allowlist TOML")
	ErrInvalidRegex = errors.New("invalid allowlist regex")
)

// Allowlist holds path and content regex patterns excluded from detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// Empty reports whether the allowlist carries no patterns.
func (a *Allowlist) Empty() bool {
	return a == nil || (len(a.Paths) == 0 && len(a.Regexes) == 0)
}

// LoadAllowlists merges a project and a user allowlist file with union
// semantics. Missing files are skipped; files that exist but fail to parse or
// carry an invalid pattern are errors.
func LoadAllowlists(projectFile, userFile string) (*Allowlist, error) {
	merged := &Allowlist{}
	for _, path := range []string{projectFile, userFile} {
		if path == "" {
			continue
		}
		loaded, err := loadTOML(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		merged.Paths = append(merged.Paths, loaded.Paths...)
		merged.Regexes = append(merged.Regexes, loaded.Regexes...)
	}
	return merged, nil
}

// loadTOML reads one gitleaks-style allowlist file and validates every
// pattern up front, so later compilation cannot fail.
func loadTOML(path string) (*Allowlist, error) {
	var doc struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range doc.Allowlist.Paths {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: path pattern %q in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}
	for _, pattern := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: content pattern %q in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Paths:   doc.Allowlist.Paths,
		Regexes: doc.Allowlist.Regexes,
	}, nil
}
