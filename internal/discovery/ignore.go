package discovery

import (
	"bufio"
	"os"
	"strings"
)

// IgnoreFileName is the project-level ignore file, gitignore syntax.
const IgnoreFileName = ".codetectiveignore"

// readIgnoreFile reads one gitignore-style file into pattern lines. A missing
// file is not an error. Comments and blank lines are dropped; negations are
// kept, the gitignore matcher understands them.
func readIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}
