package config

import (
	"regexp"
	"strings"
)

// MatchPatterns evaluates a list of patterns against one or more names of
// the same object (OR logic). Any pattern matching any name means the object
// is allowed.
// Empty list = always allowed (no filter).
// Supports ! negation: a negated pattern excludes even if others include.
//
// A pattern matches when it equals the value literally or, failing that,
// when it matches the whole value as a regular expression. Image names are
// full of regex metacharacters (".", ":"), so literal equality is tried
// first and regexes are anchored:
//
//	"org/base:latest"   exactly that image
//	"org/.*"            every image in the org namespace
//	"!.*:dev"           everything except dev-tagged images
//
// Evaluation: exclude patterns (!) are checked first. If any exclude matches,
// the value is rejected. Then include patterns are checked; if any matches,
// the value is allowed. If only exclude patterns exist and none matched,
// the value is allowed (exclude-only = allowlist by negation).
func MatchPatterns(patterns []string, values ...string) bool {
	if len(patterns) == 0 {
		return true
	}

	var includes []string
	var excludes []string
	for _, p := range patterns {
		if strings.HasPrefix(p, "!") {
			excludes = append(excludes, p[1:])
		} else {
			includes = append(includes, p)
		}
	}

	// Excludes checked first: any exclude match = rejected
	for _, p := range excludes {
		if matchAny(p, values) {
			return false
		}
	}

	// No includes = exclude-only mode (everything not excluded is allowed)
	if len(includes) == 0 {
		return true
	}

	for _, p := range includes {
		if matchAny(p, values) {
			return true
		}
	}

	return false
}

func matchAny(pattern string, values []string) bool {
	for _, v := range values {
		if matchPattern(pattern, v) {
			return true
		}
	}
	return false
}

// matchPattern reports whether a single (non-negated) pattern matches value.
func matchPattern(pattern, value string) bool {
	if pattern == value {
		return true
	}

	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		// Invalid regex → literal only, already checked
		return false
	}
	return re.MatchString(value)
}
