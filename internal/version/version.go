// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/kb-realtime/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/kb-realtime/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/rickgao/kb-realtime/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import "fmt"

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// String returns a formatted version string.
func String() string {
	return fmt.Sprintf("kbwatch %s (%s) built %s", Version, Commit, BuildTime)
}

// UserAgent is sent with the WebSocket handshake.
func UserAgent() string {
	return "kbwatch/" + Version
}
