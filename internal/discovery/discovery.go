// Package discovery resolves the scan paths a caller passes in into the
// ordered file set the agents receive. Include/exclude globs, gitignore
// chains, a .codetectiveignore file, and size/count limits all apply here so
// agents never re-implement file selection.
package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/gobwas/glob"
)

// ErrNoFiles reports that discovery found nothing to scan.
var ErrNoFiles = errors.New("no files to scan")

// alwaysSkippedDirs are never descended into regardless of configuration.
var alwaysSkippedDirs = map[string]bool{
	".git":          true,
	"node_modules":  true,
	".venv":         true,
	"venv":          true,
	"__pycache__":   true,
	".tox":          true,
	".mypy_cache":   true,
	".pytest_cache": true,
}

// Options control one discovery pass.
type Options struct {
	// Include restricts results to paths matching any of these globs.
	// Empty means everything.
	Include []string
	// Exclude drops paths matching any of these globs.
	Exclude []string
	// RespectGitignore consults .gitignore chains under each root.
	RespectGitignore bool
	// MaxFileSize skips regular files larger than this many bytes.
	// Zero means no size limit.
	MaxFileSize int64
	// MaxFiles caps the result count after ordering. Zero means unbounded.
	MaxFiles int
}

// Discover expands paths (files and directory trees) into a deduplicated,
// lexically sorted file list. Sorting makes repeated scans of an unchanged
// tree produce the same list, which keeps issue ids stable.
func Discover(paths []string, opts Options) ([]string, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no paths given", ErrNoFiles)
	}

	include, err := compileGlobs(opts.Include)
	if err != nil {
		return nil, fmt.Errorf("include patterns: %w", err)
	}
	exclude, err := compileGlobs(opts.Exclude)
	if err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}

	seen := make(map[string]bool)
	var files []string
	add := func(path string, size int64) {
		if seen[path] {
			return
		}
		if opts.MaxFileSize > 0 && size > opts.MaxFileSize {
			return
		}
		if !matchesAny(include, path, true) || matchesAny(exclude, path, false) {
			return
		}
		seen[path] = true
		files = append(files, path)
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("cannot read scan path %s: %w", root, err)
		}
		if !info.IsDir() {
			// Explicitly named files bypass the ignore chain; the caller
			// asked for them.
			add(root, info.Size())
			continue
		}
		if err := walkRoot(root, opts, add); err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	if opts.MaxFiles > 0 && len(files) > opts.MaxFiles {
		files = files[:opts.MaxFiles]
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: nothing matched under %s", ErrNoFiles, strings.Join(paths, ", "))
	}
	return files, nil
}

func walkRoot(root string, opts Options, add func(string, int64)) error {
	matcher, err := loadIgnoreMatcher(root, opts.RespectGitignore)
	if err != nil {
		return err
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal; the root itself
			// was already stat-checked.
			if path == root {
				return err
			}
			return fs.SkipDir
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		split := strings.Split(filepath.ToSlash(rel), "/")

		if d.IsDir() {
			if alwaysSkippedDirs[d.Name()] {
				return fs.SkipDir
			}
			if matcher != nil && matcher.Match(split, true) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if strings.HasSuffix(d.Name(), ".codetective.bak") {
			return nil
		}
		if matcher != nil && matcher.Match(split, false) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		add(path, info.Size())
		return nil
	})
}

// loadIgnoreMatcher builds a matcher over the root's .gitignore chain plus
// the project's .codetectiveignore patterns.
func loadIgnoreMatcher(root string, respectGitignore bool) (gitignore.Matcher, error) {
	var patterns []gitignore.Pattern

	if respectGitignore {
		ps, err := gitignore.ReadPatterns(osfs.New(root), nil)
		if err == nil {
			patterns = append(patterns, ps...)
		}
	}

	extra, err := readIgnoreFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	for _, line := range extra {
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}

	if len(patterns) == 0 {
		return nil, nil
	}
	return gitignore.NewMatcher(patterns), nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// matchesAny matches path (and its basename, so "*.py" works without a **/
// prefix) against the globs. emptyResult is returned for an empty glob set.
func matchesAny(globs []glob.Glob, path string, emptyResult bool) bool {
	if len(globs) == 0 {
		return emptyResult
	}
	slashed := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, g := range globs {
		if g.Match(slashed) || g.Match(base) {
			return true
		}
	}
	return false
}
