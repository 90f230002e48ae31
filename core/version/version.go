// Package version implements semantic version parsing and the
// compatibility rule between client and API versions: versions are
// compatible when their major components match.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// APIVersion is the version of the HTTP API served by this build.
const APIVersion = "1.0.0"

// Version is one parsed semantic version.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	PreRelease string
	Build      string
}

// String renders the version without a leading v.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PreRelease != "" {
		s += "-" + v.PreRelease
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

// Parse reads a semantic version string. A leading v or V is accepted,
// as are pre-release and build suffixes. Partial versions such as "1"
// or "1.2" fill the missing components with zero.
func Parse(s string) (Version, error) {
	var v Version

	s = strings.TrimSpace(s)
	if s == "" {
		return v, fmt.Errorf("empty version")
	}
	if s[0] == 'v' || s[0] == 'V' {
		s = s[1:]
	}
	if i := strings.IndexByte(s, '+'); i >= 0 {
		v.Build = s[i+1:]
		s = s[:i]
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		v.PreRelease = s[i+1:]
		s = s[:i]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return v, fmt.Errorf("invalid version %q", s)
	}
	numbers := [3]int{}
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return v, fmt.Errorf("invalid version component %q", part)
		}
		numbers[i] = n
	}
	v.Major, v.Minor, v.Patch = numbers[0], numbers[1], numbers[2]
	return v, nil
}

// Compatible reports whether a client version can talk to an API
// version. Only the major component matters.
func Compatible(client, api Version) bool {
	return client.Major == api.Major
}

// CompatibilityWarning returns a human readable warning when the two
// versions are incompatible, and the empty string otherwise.
func CompatibilityWarning(client, api Version) string {
	if Compatible(client, api) {
		return ""
	}
	return fmt.Sprintf("client version %s is not compatible with API version %s", client, api)
}
