// Package version provides a total ordering over the mixed version
// strings found in package repositories: hand-authored semantic versions
// ("1.2.3") and date-derived versions ("2024.01.05.13.45.00") synthesized
// by the hosting-platform providers from commit timestamps.
package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var dateBasedRe = regexp.MustCompile(`^\d{4}\.\d{2}\.\d{2}\.\d{2}\.\d{2}\.\d{2}$`)

// Version is a parsed version: the numeric dot-components with trailing
// zero components removed, so "1.2.0" and "1.2" parse identically.
type Version []int

// IsDateBased reports whether s is a date-derived version of the form
// YYYY.MM.DD.HH.MM.SS.
func IsDateBased(s string) bool {
	return dateBasedRe.MatchString(s)
}

// Parse converts a version string into its comparable form. Date-derived
// versions are prefixed with a zero component so that any repository that
// switches from commit-date versioning to explicit versioning starting at
// "1" or higher never appears to downgrade.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty version string")
	}
	if IsDateBased(s) {
		s = "0." + s
	}

	parts := strings.Split(s, ".")
	v := make(Version, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid version component %q in %q", part, s)
		}
		v[i] = n
	}

	// Trailing zero components carry no ordering information.
	for len(v) > 0 && v[len(v)-1] == 0 {
		v = v[:len(v)-1]
	}
	return v, nil
}

// Compare returns -1, 0 or 1. Missing components compare as zero.
func (v Version) Compare(o Version) int {
	n := len(v)
	if len(o) > n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		var a, b int
		if i < len(v) {
			a = v[i]
		}
		if i < len(o) {
			b = o[i]
		}
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
	}
	return 0
}

// Compare orders two version strings. Strings that fail to parse compare
// as the empty version, which sorts below everything else; callers that
// need to exclude such releases should use Parse directly.
func Compare(a, b string) int {
	va, _ := Parse(a)
	vb, _ := Parse(b)
	return va.Compare(vb)
}

// Valid reports whether s parses as a version.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}
