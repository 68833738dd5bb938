// Package version holds build identity, stamped via ldflags:
//
//	go build -ldflags "-X github.com/Eng-Elias/codetective/internal/version.Version=v1.2.0"
package version

// Build identity. Defaults describe a from-source build.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
