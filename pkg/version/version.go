package version

// These are set at build time with -ldflags.
var (
	Version   = "UNKNOWN"
	GitCommit = "UNKNOWN"
)
