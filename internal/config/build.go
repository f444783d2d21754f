package config

// Set at link time:
//
//	go build -ldflags "-X kassenews/internal/config.version=1.4.0 \
//	    -X kassenews/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X kassenews/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	    ./cmd/news-reporter
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}
