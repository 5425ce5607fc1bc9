// Package gitver provides git-based version detection and tag template
// resolution for image tags.
package gitver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	masterminds "github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// VersionInfo holds resolved version metadata from git.
type VersionInfo struct {
	Version      string // full version: "1.2.3", "1.2.3-alpha.1", "0.0.0-dev+abc1234"
	Base         string // semver base without prerelease: "1.2.3"
	Major        string
	Minor        string
	Patch        string
	Prerelease   string // "alpha.1", "rc.1", or "" for stable
	SHA          string // full commit hash
	Branch       string
	IsRelease    bool // true if HEAD is exactly at a semver tag
	IsPrerelease bool
	Time         time.Time // reference time for {date} style templates
}

// DevVersion is used when the config directory is not inside a git repository.
func DevVersion(now time.Time) *VersionInfo {
	return &VersionInfo{
		Version: "0.0.0-dev",
		Base:    "0.0.0",
		Major:   "0",
		Minor:   "0",
		Patch:   "0",
		SHA:     "unknown",
		Branch:  "dev",
		Time:    now,
	}
}

// DetectVersion resolves version info from the repository containing dir.
// The nearest semver tag is the highest one whose commit is HEAD or an
// ancestor of HEAD.
func DetectVersion(dir string, now time.Time) (*VersionInfo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening git repository at %s: %w", dir, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}

	v := &VersionInfo{
		SHA:    head.Hash().String(),
		Branch: "HEAD",
		Time:   now,
	}
	if head.Name().IsBranch() {
		v.Branch = head.Name().Short()
	}

	headCommit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("reading HEAD commit: %w", err)
	}

	best, bestHash, err := nearestSemverTag(repo, headCommit)
	if err != nil {
		return nil, err
	}

	if best == nil {
		v.Version = fmt.Sprintf("0.0.0-dev+%s", short(v.SHA, 7))
		v.Base = "0.0.0"
		v.Major, v.Minor, v.Patch = "0", "0", "0"
		return v, nil
	}

	v.Major = fmt.Sprint(best.Major())
	v.Minor = fmt.Sprint(best.Minor())
	v.Patch = fmt.Sprint(best.Patch())
	v.Base = fmt.Sprintf("%s.%s.%s", v.Major, v.Minor, v.Patch)
	v.Prerelease = best.Prerelease()
	v.IsPrerelease = v.Prerelease != ""
	v.IsRelease = bestHash == head.Hash()

	v.Version = v.Base
	if v.IsPrerelease {
		v.Version = v.Base + "-" + v.Prerelease
	}
	if !v.IsRelease {
		v.Version = fmt.Sprintf("%s-dev+%s", v.Version, short(v.SHA, 7))
	}
	return v, nil
}

// nearestSemverTag returns the highest semver tag reachable from head.
func nearestSemverTag(repo *git.Repository, head *object.Commit) (*masterminds.Version, plumbing.Hash, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, plumbing.ZeroHash, fmt.Errorf("listing tags: %w", err)
	}
	defer iter.Close()

	var best *masterminds.Version
	var bestHash plumbing.Hash

	err = iter.ForEach(func(ref *plumbing.Reference) error {
		sv, err := masterminds.NewVersion(ref.Name().Short())
		if err != nil {
			return nil // not a version tag
		}

		target := ref.Hash()
		if tagObj, err := repo.TagObject(target); err == nil {
			target = tagObj.Target
		} else if !errors.Is(err, plumbing.ErrObjectNotFound) {
			return err
		}

		commit, err := repo.CommitObject(target)
		if err != nil {
			return nil // tag on a non-commit object
		}
		if commit.Hash != head.Hash {
			ok, err := commit.IsAncestor(head)
			if err != nil || !ok {
				return nil
			}
		}

		if best == nil || sv.GreaterThan(best) {
			best = sv
			bestHash = commit.Hash
		}
		return nil
	})
	if err != nil {
		return nil, plumbing.ZeroHash, err
	}
	return best, bestHash, nil
}

// BranchToTag maps a branch name to its conventional image tag:
// main and master become "latest", dev becomes "next", anything else is
// sanitized into a valid tag.
func BranchToTag(branch string) string {
	switch branch {
	case "main", "master":
		return "latest"
	case "dev":
		return "next"
	default:
		return sanitizeTag(branch)
	}
}

// DateTag returns the history tag for tag at t: "<tag>_<mmddhh>", or just
// "<mmddhh>" for empty and "latest" tags.
func DateTag(tag string, t time.Time) string {
	stamp := t.Format("010215")
	if tag == "" || tag == "latest" {
		return stamp
	}
	return tag + "_" + stamp
}

func short(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// sanitizeTag replaces characters not allowed in Docker tags.
func sanitizeTag(s string) string {
	r := strings.NewReplacer(
		"/", "-",
		" ", "-",
		"+", "-",
	)
	return r.Replace(s)
}
