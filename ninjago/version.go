package ninjago

import (
	"strconv"
	"strings"
)

// NinjaVersion is the version number of the current software.  Keep this
// in sync with the release tags.
const NinjaVersion = "1.12.0"

// ParseVersion parses the major/minor components of a version string.
func ParseVersion(version string) (major, minor int) {
	parts := strings.Split(version, ".")
	if len(parts) > 0 {
		major, _ = strconv.Atoi(parts[0])
	}
	if len(parts) > 1 {
		minor, _ = strconv.Atoi(parts[1])
	}
	return major, minor
}

// CheckNinjaVersion checks whether this executable can run a manifest
// with the given ninja_required_version.
func CheckNinjaVersion(version string) {
	binMajor, binMinor := ParseVersion(NinjaVersion)
	fileMajor, fileMinor := ParseVersion(version)

	if binMajor > fileMajor {
		Warning("ninja executable version (%s) greater than build file "+
			"ninja_required_version (%s); versions may be incompatible.",
			NinjaVersion, version)
		return
	}

	if (binMajor == fileMajor && binMinor < fileMinor) || binMajor < fileMajor {
		Fatal("ninja version (%s) incompatible with build file "+
			"ninja_required_version version (%s).", NinjaVersion, version)
	}
}
