package version

// Set at build time via -ldflags "-X github.com/Norgate-AV/xbuild/internal/version.Version=..."
var (
	Version   = "0.0.0-dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// String returns the version line printed by --version
func String() string {
	return Version + " (" + Commit + ") " + BuildTime
}
