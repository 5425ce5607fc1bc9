package image

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultTag is applied to references that carry no tag.
const DefaultTag = "latest"

var (
	pathComponent = `[a-z0-9]+(?:(?:[._]|__|-+)[a-z0-9]+)*`
	repositoryRe  = regexp.MustCompile(`^(?:[a-zA-Z0-9.-]+(?::[0-9]+)?/)?` + pathComponent + `(?:/` + pathComponent + `)*$`)
	tagRe         = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,127}$`)
)

// Ref is an image reference split into repository and tag.
type Ref struct {
	Repository string // "registry.local:5000/org/base"
	Tag        string // "latest"
}

// String returns "repository:tag".
func (r Ref) String() string {
	return r.Repository + ":" + r.Tag
}

// WithTag returns the reference of the same repository with another tag.
func (r Ref) WithTag(tag string) Ref {
	return Ref{Repository: r.Repository, Tag: tag}
}

// ParseRef parses "repository[:tag]". The tag is whatever follows the last
// colon after the last slash, so registry ports are not mistaken for tags.
// Digests are not accepted: a node's identity must be a mutable tag.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("empty image reference")
	}
	if strings.Contains(s, "@") {
		return Ref{}, fmt.Errorf("digest references are not supported: %q", s)
	}

	repo, tag := s, DefaultTag
	lastSlash := strings.LastIndex(s, "/")
	if i := strings.LastIndex(s, ":"); i > lastSlash {
		repo, tag = s[:i], s[i+1:]
	}

	if !repositoryRe.MatchString(repo) {
		return Ref{}, fmt.Errorf("invalid repository %q", repo)
	}
	if err := ValidateTag(tag); err != nil {
		return Ref{}, err
	}
	return Ref{Repository: repo, Tag: tag}, nil
}

// NormalizeID returns the canonical identifier for s ("repo:tag"), or s
// unchanged when it does not parse.
func NormalizeID(s string) string {
	ref, err := ParseRef(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return ref.String()
}

// ValidateTag checks a tag against the registry tag grammar.
func ValidateTag(tag string) error {
	if !tagRe.MatchString(tag) {
		return fmt.Errorf("invalid tag %q", tag)
	}
	return nil
}
