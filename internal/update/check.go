// Package update compares the running build against the latest version
// advertised by the remote config service.
package update

import (
	"log/slog"
	"strings"
)

// ///////////////////////////////////////////////
// Public API
// ///////////////////////////////////////////////

// Check reports whether latest is newer than current and logs once when it
// is. Unparseable versions never count as an update.
func Check(current, latest string, log *slog.Logger) bool {
	if latest == "" || latest == current {
		return false
	}
	if !semverLess(current, latest) {
		return false
	}
	if log != nil {
		log.Info("new version available", "current", current, "latest", latest)
	}
	return true
}

// ///////////////////////////////////////////////
// Internal helpers
// ///////////////////////////////////////////////

// semverLess returns true if a < b using simple numeric comparison.
// Per semver, a pre-release version is less than the same version without one
// (e.g., "2.3.0-dev" < "2.3.0").
func semverLess(a, b string) bool {
	pa := parseSemver(a)
	pb := parseSemver(b)
	if pa == nil || pb == nil {
		return false
	}
	for i := range 3 {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return hasPreRelease(a) && !hasPreRelease(b)
}

// hasPreRelease reports whether a version string carries a pre-release suffix.
func hasPreRelease(s string) bool {
	return strings.Contains(strings.TrimPrefix(s, "v"), "-")
}

// parseSemver splits "v1.2.3" or "2.3.0-dev" into [major, minor, patch].
// Returns nil if the string is not valid semver.
func parseSemver(s string) []int {
	s = strings.TrimPrefix(s, "v")
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return nil
	}
	result := make([]int, 3)
	for i, p := range parts {
		if idx := strings.IndexAny(p, "-+"); idx >= 0 {
			p = p[:idx]
		}
		if p == "" {
			return nil
		}
		n := 0
		for _, c := range p {
			if c < '0' || c > '9' {
				return nil
			}
			n = n*10 + int(c-'0')
		}
		result[i] = n
	}
	return result
}
