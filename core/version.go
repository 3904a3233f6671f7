package core

// Build metadata, injected with
//
//	go build -ldflags "-X mochi_backend/core.Version=v1.0.0 -X mochi_backend/core.GitCommit=$(git rev-parse --short HEAD)"
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// VersionInfo formats the build metadata for --version.
func VersionInfo() string {
	return Version + " (built " + BuildTime + ", commit " + GitCommit + ")"
}
