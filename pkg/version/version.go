package version

import "fmt"

// Set via ldflags at build time:
//
//	-X .../pkg/version.Version=v1.2.0 -X .../pkg/version.GitCommit=$(git rev-parse HEAD)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the release version, or dev-<commit> for untagged builds
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if len(GitCommit) >= 8 {
		return fmt.Sprintf("dev-%s", GitCommit[:8])
	}
	return "dev-unknown"
}
