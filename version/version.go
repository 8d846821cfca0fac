package version

// Set via -ldflags at build time.
var (
	GitRelease = "dev"
	GitCommit  = ""
)
