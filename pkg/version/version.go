// Package version reports build metadata for the playback binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set with -ldflags "-X github.com/zsiec/playback/pkg/version.Version=...".
// When unset, GetInfo falls back to the VCS stamp the go tool embeds.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info describes the running build.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var (
	vcsOnce sync.Once
	vcs     map[string]string
)

func vcsSettings() map[string]string {
	vcsOnce.Do(func() {
		vcs = map[string]string{}
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range bi.Settings {
			vcs[s.Key] = s.Value
		}
	})
	return vcs
}

// GetInfo returns the build information.
func GetInfo() Info {
	info := Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	s := vcsSettings()
	if info.GitCommit == "unknown" && s["vcs.revision"] != "" {
		info.GitCommit = s["vcs.revision"]
		if len(info.GitCommit) > 12 {
			info.GitCommit = info.GitCommit[:12]
		}
	}
	if info.BuildTime == "unknown" && s["vcs.time"] != "" {
		info.BuildTime = s["vcs.time"]
	}
	info.Modified = s["vcs.modified"] == "true"
	return info
}

func (i Info) String() string {
	commit := i.GitCommit
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("playback %s (%s, built %s, %s %s)",
		i.Version, commit, i.BuildTime, i.GoVersion, i.Platform)
}

// Short is the version as logged at startup.
func (i Info) Short() string {
	return "playback " + i.Version
}

// UserAgent is sent in the control server's Server header.
func (i Info) UserAgent() string {
	return fmt.Sprintf("playback/%s (%s)", i.Version, i.Platform)
}
