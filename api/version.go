package api

import (
	"fmt"
	"strconv"
)

// Version contains versioning information for the server
type Version struct {
	Major     int    `json:"major"`
	Minor     int    `json:"minor"`
	Patch     int    `json:"patch"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildDate string `json:"build_date,omitempty"`
}

// These values are set during build time with -ldflags "-X ..."
var (
	VersionMajor = "0"
	VersionMinor = "1"
	VersionPatch = "0"
	// GitCommit is the git commit hash from build
	GitCommit = "development"
	// BuildDate is the build timestamp
	BuildDate = "unknown"
)

// GetVersion returns the current application version
func GetVersion() Version {
	return Version{
		Major:     parseIntOrZero(VersionMajor),
		Minor:     parseIntOrZero(VersionMinor),
		Patch:     parseIntOrZero(VersionPatch),
		GitCommit: GitCommit,
		BuildDate: BuildDate,
	}
}

func parseIntOrZero(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return i
}

// GetVersionString returns the version as a formatted string
func GetVersionString() string {
	v := GetVersion()
	return fmt.Sprintf("painter %d.%d.%d (%s - built %s)",
		v.Major, v.Minor, v.Patch, v.GitCommit, v.BuildDate)
}
