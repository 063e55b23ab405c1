package version

// Application version information, set at build time via ldflags.
var (
	Version = "dev"
	Commit  = ""
)
