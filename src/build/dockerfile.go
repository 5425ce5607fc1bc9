package build

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sofmeright/treebuild/src/image"
)

var (
	// FROM [--platform=...] <image> [AS <name>]
	fromRe = regexp.MustCompile(`(?i)^FROM\s+(?:--platform=\S+\s+)?(\S+)(?:\s+AS\s+(\S+))?`)
	// ARG <name>[=<default>]
	argRe = regexp.MustCompile(`(?i)^ARG\s+([A-Za-z_][A-Za-z0-9_]*)(?:=(.*))?$`)
)

// Dockerfile is the subset of a Dockerfile the orchestrator cares about.
// This is a line-based scan, not a full parser.
type Dockerfile struct {
	Path   string
	Stages []Stage
	Args   map[string]string // declared ARG -> default ("" when none)
}

// Stage is one FROM instruction.
type Stage struct {
	Name      string // alias from "AS name"
	BaseImage string // the FROM reference as written
	Line      int
}

// DockerfilePath returns the Dockerfile a node builds from.
func DockerfilePath(n image.Node) string {
	if n.Dockerfile != "" {
		return n.Dockerfile
	}
	return filepath.Join(n.Context, "Dockerfile")
}

// ParseDockerfile reads FROM and ARG instructions from path.
func ParseDockerfile(path string) (*Dockerfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	df := &Dockerfile{Path: path, Args: map[string]string{}}
	scanner := bufio.NewScanner(f)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := fromRe.FindStringSubmatch(line); m != nil {
			df.Stages = append(df.Stages, Stage{BaseImage: m[1], Name: m[2], Line: lineNum})
			continue
		}
		if m := argRe.FindStringSubmatch(line); m != nil {
			df.Args[m[1]] = strings.Trim(m[2], `"'`)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return df, nil
}

// Declares reports whether the Dockerfile declares ARG name.
func (d *Dockerfile) Declares(name string) bool {
	if d == nil {
		return false
	}
	_, ok := d.Args[name]
	return ok
}

// References reports whether any stage's base image is ref, either literally,
// through ${arg}/$arg, or by repository with any tag.
func (d *Dockerfile) References(ref image.Ref, arg string) bool {
	if d == nil {
		return false
	}
	for _, st := range d.Stages {
		base := st.BaseImage
		if arg != "" && (strings.Contains(base, "${"+arg+"}") || strings.Contains(base, "$"+arg)) {
			return true
		}
		if r, err := image.ParseRef(base); err == nil && r.Repository == ref.Repository {
			return true
		}
	}
	return false
}
