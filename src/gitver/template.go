package gitver

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ResolveTemplate expands template variables in a tag against version info
// and environment.
//
// Supported templates:
//
//	{version}          → "1.2.3" or "1.2.3-alpha.1" (full version)
//	{base}             → "1.2.3" (semver base, no prerelease)
//	{major}            → "1"
//	{minor}            → "2"
//	{patch}            → "3"
//	{prerelease}       → "alpha.1" or "" (empty for stable)
//	{branch}           → "main", "feature-x" (sanitized)
//	{tag}              → branch mapped through BranchToTag: "latest", "next", ...
//	{sha}              → "abc1234" (default 7)
//	{sha:12}           → first 12 chars
//	{env:VAR_NAME}     → value of environment variable
//	{date}             → "2026-02-24" (ISO date, UTC)
//	{date:FORMAT}      → custom Go time layout (e.g. {date:20060102})
//	{datetime}         → RFC3339 timestamp
//	{timestamp}        → unix epoch
//
// Literals pass through as-is.
func ResolveTemplate(tmpl string, v *VersionInfo) string {
	if v == nil || !strings.Contains(tmpl, "{") {
		return tmpl
	}

	s := tmpl

	// Parameterized templates first: they contain colons that could
	// collide with the simple replacements.
	s = resolveEnvVars(s)
	s = resolveSHA(s, v.SHA)

	now := v.Time
	if now.IsZero() {
		now = time.Now()
	}
	s = resolveTime(s, now.UTC())

	s = strings.ReplaceAll(s, "{version}", v.Version)
	s = strings.ReplaceAll(s, "{base}", v.Base)
	s = strings.ReplaceAll(s, "{major}", v.Major)
	s = strings.ReplaceAll(s, "{minor}", v.Minor)
	s = strings.ReplaceAll(s, "{patch}", v.Patch)
	s = strings.ReplaceAll(s, "{prerelease}", v.Prerelease)
	s = strings.ReplaceAll(s, "{branch}", sanitizeTag(v.Branch))
	s = strings.ReplaceAll(s, "{tag}", BranchToTag(v.Branch))
	s = strings.ReplaceAll(s, "{sha}", short(v.SHA, 7))

	return sanitizeTag(s)
}

// ResolveTags expands tag templates against version info.
func ResolveTags(templates []string, v *VersionInfo) []string {
	tags := make([]string, 0, len(templates))
	for _, tmpl := range templates {
		tags = append(tags, ResolveTemplate(tmpl, v))
	}
	return tags
}

// resolveEnvVars replaces all {env:VAR_NAME} with the env var value.
func resolveEnvVars(s string) string {
	for {
		start := strings.Index(s, "{env:")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			return s
		}
		end += start
		val := os.Getenv(s[start+5 : end])
		s = s[:start] + val + s[end+1:]
	}
}

// resolveSHA replaces {sha:N} with the SHA truncated to N chars.
// Plain {sha} is handled by the simple replacement pass.
func resolveSHA(s string, sha string) string {
	for {
		start := strings.Index(s, "{sha:")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			return s
		}
		end += start
		width, err := strconv.Atoi(strings.TrimPrefix(s[start+5:end], "."))
		if err != nil || width <= 0 {
			width = 7
		}
		s = s[:start] + short(sha, width) + s[end+1:]
	}
}

// resolveTime expands time templates.
// {date:FORMAT} and {datetime} resolve before plain {date}, which is a
// substring of both.
func resolveTime(s string, now time.Time) string {
	for {
		start := strings.Index(s, "{date:")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			break
		}
		end += start
		layout := s[start+6 : end]
		if layout == "" {
			break
		}
		s = s[:start] + now.Format(layout) + s[end+1:]
	}

	s = strings.ReplaceAll(s, "{datetime}", now.Format("20060102T150405Z"))
	s = strings.ReplaceAll(s, "{timestamp}", strconv.FormatInt(now.Unix(), 10))
	s = strings.ReplaceAll(s, "{date}", now.Format("2006-01-02"))
	return s
}
