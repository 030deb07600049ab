// Package semverutil normalizes and compares the loose version strings that
// flow through the planner: semver literals, partial versions ("14",
// "14.1"), prerelease-only strings, and the symbolic tags "latest"/"next".
//
// Parsing and range matching are delegated to Masterminds/semver/v3; this
// package only adds the normalization and fallback behavior the planner
// depends on, which has no equivalent in any general-purpose semver library.
package semverutil

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Tag is a symbolic version reference that bypasses normalization entirely.
type Tag string

const (
	Latest Tag = "latest"
	Next   Tag = "next"
)

// IsTag reports whether v is one of the recognized symbolic tags.
func IsTag(v string) bool {
	return v == string(Latest) || v == string(Next)
}

var leadingNumbers = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

// NormalizeVersion fills missing components with zero and tolerates dirty
// input (bare integers, a "v" prefix, prerelease-only strings). It tries
// three progressively looser readings of raw, in order, and returns the
// first one that parses to a version greater than 0.0.0:
//
//  1. the full string, as given;
//  2. major.minor only, patch forced to zero;
//  3. major only, minor and patch forced to zero.
//
// If none of the three parses to something greater than 0.0.0, "0.0.0" is
// returned. The result is always a canonical, fully-qualified semver
// string.
func NormalizeVersion(raw string) string {
	raw = strings.TrimSpace(raw)

	if v, err := semver.NewVersion(raw); err == nil && v.GreaterThan(zero) {
		return v.String()
	}

	m := leadingNumbers.FindStringSubmatch(raw)
	if m == nil {
		return "0.0.0"
	}
	major, minor := m[1], m[2]
	if minor == "" {
		minor = "0"
	}

	// drop-patch: major.minor.0
	if v, err := semver.NewVersion(major + "." + minor + ".0"); err == nil && v.GreaterThan(zero) {
		return v.String()
	}

	// drop-patch-and-minor: major.0.0
	if v, err := semver.NewVersion(major + ".0.0"); err == nil && v.GreaterThan(zero) {
		return v.String()
	}

	return "0.0.0"
}

var zero = semver.MustParse("0.0.0")

// NormalizeVersionWithTagCheck passes "latest" and "next" through
// unchanged; every other input is routed through NormalizeVersion.
func NormalizeVersionWithTagCheck(raw string) string {
	if IsTag(raw) {
		return raw
	}
	return NormalizeVersion(raw)
}

// CleanSemver coerces a dirty version string into a parsed *semver.Version
// by normalizing it first, then parsing the normalized form. Normalization
// never fails outright (it falls back to 0.0.0), so the only parse errors
// surfaced here would indicate a bug in NormalizeVersion itself.
func CleanSemver(raw string) (*semver.Version, error) {
	return semver.NewVersion(NormalizeVersion(raw))
}

// Gt reports whether a > b, after normalizing both.
func Gt(a, b string) bool {
	return mustParse(a).GreaterThan(mustParse(b))
}

// Gte reports whether a >= b, after normalizing both.
func Gte(a, b string) bool {
	va, vb := mustParse(a), mustParse(b)
	return va.GreaterThan(vb) || va.Equal(vb)
}

// Lte reports whether a <= b, after normalizing both.
func Lte(a, b string) bool {
	va, vb := mustParse(a), mustParse(b)
	return va.LessThan(vb) || va.Equal(vb)
}

// Lt reports whether a < b, after normalizing both.
func Lt(a, b string) bool {
	return mustParse(a).LessThan(mustParse(b))
}

func mustParse(raw string) *semver.Version {
	// NormalizeVersion always yields a parseable string, so this cannot fail.
	v, _ := semver.NewVersion(NormalizeVersion(raw))
	return v
}

// SatisfiesOptions mirrors the handful of knobs the planner's requires
// predicates need; node-semver's includePrerelease is the only one in
// practice, so it's the only one modeled.
type SatisfiesOptions struct {
	IncludePrerelease bool
}

// Satisfies reports whether the (normalized) version v matches the given
// semver range. With IncludePrerelease set, a prerelease version is allowed
// to match a range that doesn't itself mention a prerelease — the default
// Masterminds behavior otherwise excludes it, which is stricter than the
// node-semver convention the planner's requires predicates assume.
func Satisfies(v, rangeExpr string, opts SatisfiesOptions) bool {
	normalized := NormalizeVersion(v)
	pv, err := semver.NewVersion(normalized)
	if err != nil {
		return false
	}

	rangeExpr = strings.TrimSpace(rangeExpr)
	if rangeExpr == "" || rangeExpr == "*" {
		return true
	}

	c, err := semver.NewConstraint(rangeExpr)
	if err != nil {
		return false
	}
	if c.Check(pv) {
		return true
	}
	if !opts.IncludePrerelease || pv.Prerelease() == "" {
		return false
	}

	// Retry the check against the release version (prerelease stripped) so a
	// range like ">=3.0.0" still admits "3.0.0-beta.1" when prereleases are
	// explicitly allowed through.
	release, err := semver.NewVersion(strconv.FormatUint(pv.Major(), 10) + "." +
		strconv.FormatUint(pv.Minor(), 10) + "." + strconv.FormatUint(pv.Patch(), 10))
	if err != nil {
		return false
	}
	return c.Check(release)
}
