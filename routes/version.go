package routes

import (
	"net/http"
	"runtime"
	"runtime/debug"
)

// VersionResponse represents the version information response
type VersionResponse struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	GitCommit string `json:"git_commit,omitempty"`
}

// VersionHandler reports build information.
// Values not injected by ldflags fall back to the module's embedded VCS info.
func VersionHandler(w http.ResponseWriter, r *http.Request) {
	response := VersionResponse{
		Version:   version,
		BuildTime: buildTime,
		GoVersion: runtime.Version(),
		GitCommit: gitCommit,
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if response.GitCommit == "unknown" {
					response.GitCommit = s.Value
				}
			case "vcs.time":
				if response.BuildTime == "unknown" {
					response.BuildTime = s.Value
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, response)
}
