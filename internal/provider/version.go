package provider

// Set at build time via -ldflags.
var (
	Version   = "dev"
	BuildSHA  = "unknown"
	BuildDate = "unknown"
)

type VersionInfo struct {
	Version   string `json:"version"`
	BuildSHA  string `json:"build_sha"`
	BuildDate string `json:"build_date"`
}

func GetVersionInfo() VersionInfo {
	return VersionInfo{Version: Version, BuildSHA: BuildSHA, BuildDate: BuildDate}
}
