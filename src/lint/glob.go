package lint

import (
	"path/filepath"
	"strings"
)

// MatchGlob matches a .dockerignore-style pattern against a forward-slash
// path relative to the build context. "**" matches zero or more segments,
// a leading "/" anchors nothing (context paths are already relative), and
// a pattern that matches a directory also matches everything below it.
func MatchGlob(pattern, path string) bool {
	pattern = strings.TrimPrefix(filepath.ToSlash(pattern), "/")
	pattern = strings.TrimSuffix(pattern, "/")
	path = strings.Trim(filepath.ToSlash(path), "/")
	if pattern == "" {
		return false
	}

	// Try the path itself and each of its parent directories.
	for p := path; p != ""; {
		if matchGlob(pattern, p) {
			return true
		}
		i := strings.LastIndex(p, "/")
		if i < 0 {
			break
		}
		p = p[:i]
	}
	return false
}

func matchGlob(pattern, path string) bool {
	if !strings.Contains(pattern, "**") {
		matched, _ := filepath.Match(pattern, path)
		return matched
	}

	idx := strings.Index(pattern, "**")
	prefix := strings.TrimRight(pattern[:idx], "/")
	suffix := strings.TrimLeft(pattern[idx+2:], "/")

	if prefix != "" {
		if path != prefix && !strings.HasPrefix(path, prefix+"/") {
			return false
		}
		path = strings.TrimLeft(strings.TrimPrefix(path, prefix), "/")
	}

	if suffix == "" {
		return true
	}

	// "tail" walks: "a/b/c", "b/c", "c".
	parts := strings.Split(path, "/")
	for i := 0; i < len(parts); i++ {
		if matchGlob(suffix, strings.Join(parts[i:], "/")) {
			return true
		}
	}
	return false
}
