package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Version is the canonical version of QuantDesk.
// Config files declare the version they were written against; loading
// refuses configs from a newer major version.
const Version = "1.0.0"

// GetVersion returns the current version
func GetVersion() string {
	return Version
}

// CheckConfigVersion verifies a config file's declared version is
// compatible with this binary. Empty means "current".
func CheckConfigVersion(declared string) error {
	if declared == "" {
		return nil
	}

	dv, err := semver.NewVersion(declared)
	if err != nil {
		return fmt.Errorf("invalid config_version %q: %w", declared, err)
	}
	cv := semver.MustParse(Version)

	if dv.Major() > cv.Major() {
		return fmt.Errorf("config_version %s is newer than supported version %s", declared, Version)
	}
	return nil
}
