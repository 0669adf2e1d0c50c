package version

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// These variables are populated by the build process
var (
	// Version is the version of the build
	Version = "dev"
	// BuildTime is the time when the build was created
	BuildTime = "unknown"
	// CommitHash is the source revision of the build
	CommitHash = ""
)

// Info describes the running binary
type Info struct {
	Version    string `json:"version"`
	BuildTime  string `json:"buildTime"`
	CommitHash string `json:"commitHash,omitempty"`
	Platform   string `json:"platform"`
	GoVersion  string `json:"goVersion"`
}

// Get returns the build information
func Get() Info {
	return Info{
		Version:    Version,
		BuildTime:  BuildTime,
		CommitHash: CommitHash,
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
		GoVersion:  runtime.Version(),
	}
}

// String returns a one-line summary
func (i Info) String() string {
	return fmt.Sprintf("stepscope v%s (built: %s, %s)", i.Version, i.BuildTime, i.Platform)
}

// JSON returns the build information as a JSON document
func (i Info) JSON() (string, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
