// Package version exposes build metadata for the Bandfront demo service.
package version

import (
	"fmt"
	"runtime/debug"
)

// Overridden at build time with -ldflags "-X .../internal/version.Version=...".
var (
	Name      = "Bandfront"
	Version   = "1.0.0"
	BuildTime = ""
	GitCommit = ""
)

// Info is the payload of GET /api/v1/version.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildTime string `json:"buildTime,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
}

// GetInfo returns the current build information. When GitCommit was not
// injected through ldflags it falls back to the VCS revision recorded by the
// Go toolchain.
func GetInfo() Info {
	commit := GitCommit
	if commit == "" {
		commit = vcsRevision()
	}
	return Info{
		Name:      Name,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: commit,
	}
}

// String renders "Name vX.Y.Z (abcdef1) built <time>".
func (i Info) String() string {
	s := fmt.Sprintf("%s v%s", i.Name, i.Version)
	if i.GitCommit != "" {
		s += fmt.Sprintf(" (%s)", i.GitCommit[:min(7, len(i.GitCommit))])
	}
	if i.BuildTime != "" {
		s += " built " + i.BuildTime
	}
	return s
}

func vcsRevision() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
