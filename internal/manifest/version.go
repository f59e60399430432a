package manifest

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// ValidVersion reports whether v is a full MAJOR.MINOR.PATCH semantic version
// without the "v" prefix.
func ValidVersion(v string) bool {
	if v == "" || strings.HasPrefix(v, "v") || !semver.IsValid("v"+v) {
		return false
	}
	core, _, _ := strings.Cut(v, "+")
	core, _, _ = strings.Cut(core, "-")
	return strings.Count(core, ".") == 2
}

// reqOp is a version requirement comparison.
type reqOp string

const (
	opCaret reqOp = "^"
	opExact reqOp = "="
	opGTE   reqOp = ">="
	opAny   reqOp = "*"
)

// VersionReq is a parsed version requirement.
//
// Supported forms: "1.2.3" and "^1.2.3" (compatible), "=1.2.3" (exact),
// ">=1.2.3" and "*" (any).
type VersionReq struct {
	op      reqOp
	version string // with "v" prefix
	raw     string
}

// ParseVersionReq parses a requirement string. An empty string matches any version.
func ParseVersionReq(s string) (VersionReq, error) {
	raw := strings.TrimSpace(s)
	if raw == "" || raw == "*" {
		return VersionReq{op: opAny, raw: raw}, nil
	}

	op := opCaret
	rest := raw
	switch {
	case strings.HasPrefix(rest, ">="):
		op, rest = opGTE, rest[2:]
	case strings.HasPrefix(rest, "="):
		op, rest = opExact, rest[1:]
	case strings.HasPrefix(rest, "^"):
		rest = rest[1:]
	}
	rest = strings.TrimSpace(rest)

	// Allow partial versions like "0.5" or "1".
	parts := strings.Split(rest, ".")
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	v := "v" + strings.Join(parts, ".")
	if !semver.IsValid(v) {
		return VersionReq{}, fmt.Errorf("invalid version requirement %q", s)
	}
	return VersionReq{op: op, version: semver.Canonical(v), raw: raw}, nil
}

// Matches reports whether version (without "v" prefix) satisfies the requirement.
func (r VersionReq) Matches(version string) bool {
	v := "v" + version
	if !semver.IsValid(v) {
		return false
	}
	switch r.op {
	case opAny:
		return true
	case opExact:
		return semver.Compare(v, r.version) == 0
	case opGTE:
		return semver.Compare(v, r.version) >= 0
	}

	if semver.Compare(v, r.version) < 0 {
		return false
	}
	if semver.Major(r.version) != "v0" {
		return semver.Major(v) == semver.Major(r.version)
	}
	// ^0.0.x only matches itself; ^0.y.z stays within the minor version.
	if semver.MajorMinor(r.version) == "v0.0" {
		return semver.Compare(v, r.version) == 0
	}
	return semver.MajorMinor(v) == semver.MajorMinor(r.version)
}

// String returns the requirement as written.
func (r VersionReq) String() string {
	if r.raw == "" {
		return "*"
	}
	return r.raw
}
