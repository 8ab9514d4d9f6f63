package imp

import (
	"fmt"
	"strings"

	"github.com/blang/semver"
)

// ParseFirmwareVersion extracts the semantic version from an imp OS version string.
// The string is dash-delimited and the version is its third field, e.g.
// "b60c3b6 - release-36.12 - Tue Jun 13 14:44:26 2017" yields 36.12.0.
func ParseFirmwareVersion(raw string) (semver.Version, error) {
	fields := strings.Split(raw, "-")
	if len(fields) < 3 {
		return semver.Version{}, fmt.Errorf("firmware version %q has no version field", raw)
	}

	v, err := semver.ParseTolerant(strings.TrimSpace(fields[2]))
	if err != nil {
		return semver.Version{}, fmt.Errorf("firmware version %q: %w", raw, err)
	}
	return v, nil
}
