// Package version tracks the published agent build catalog and decides
// whether a reporting agent is out of date.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var versionPattern = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?$`)

// Parse splits a version string into its three numeric components. A leading
// "v" is accepted and a missing component is treated as zero. ok is false for
// anything that does not look like a version ("unknown", "", "dev").
func Parse(s string) (parts [3]int, ok bool) {
	m := versionPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return parts, false
	}
	for i := 0; i < 3; i++ {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return parts, false
		}
		parts[i] = n
	}
	return parts, true
}

// Compare orders two version strings: -1 if a < b, 0 if equal, +1 if a > b.
// Comparison is major, then minor, then patch.
func Compare(a, b string) (int, error) {
	av, ok := Parse(a)
	if !ok {
		return 0, fmt.Errorf("version: unparsable version %q", a)
	}
	bv, ok := Parse(b)
	if !ok {
		return 0, fmt.Errorf("version: unparsable version %q", b)
	}
	for i := 0; i < 3; i++ {
		if av[i] < bv[i] {
			return -1, nil
		}
		if av[i] > bv[i] {
			return 1, nil
		}
	}
	return 0, nil
}

// IsValid reports whether s is an acceptable published version string
// (v?MAJOR.MINOR.PATCH with all three components present).
func IsValid(s string) bool {
	m := versionPattern.FindStringSubmatch(strings.TrimSpace(s))
	return m != nil && m[2] != "" && m[3] != ""
}
