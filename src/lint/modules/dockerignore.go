package modules

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sofmeright/treebuild/src/lint"
)

func init() {
	lint.Register("dockerignore", func() lint.Module { return &dockerignoreModule{} })
}

type sensitiveEntry struct {
	label     string
	testPaths []string
	reason    string
}

var sensitiveEntries = []sensitiveEntry{
	{".git", []string{".git", ".git/config"}, "repository history"},
	{".env / .env.*", []string{".env", ".env.local"}, "environment secrets"},
	{".ssh", []string{".ssh", ".ssh/id_rsa"}, "SSH keys directory"},
	{"*.pem", []string{"server.pem"}, "TLS certificates/keys"},
	{"*.key", []string{"private.key"}, "TLS private keys"},
	{"*_rsa / *_ed25519", []string{"id_rsa", "id_ed25519"}, "SSH private keys"},
	{".npmrc", []string{".npmrc"}, "npm auth tokens"},
	{".netrc", []string{".netrc"}, "credential store"},
	{".aws", []string{".aws", ".aws/credentials"}, "AWS credentials"},
	{".kube", []string{".kube", ".kube/config"}, "Kubernetes credentials"},
}

// dockerignoreModule checks the .dockerignore of each build context.
// Several images often share one context, so each root is checked once.
type dockerignoreModule struct {
	checked sync.Map // context root → bool
}

func (m *dockerignoreModule) Name() string { return "dockerignore" }

func (m *dockerignoreModule) Check(_ context.Context, t lint.Target) ([]lint.Finding, error) {
	root := t.Node.Context
	if _, loaded := m.checked.LoadOrStore(root, true); loaded {
		return nil, nil
	}

	ignorePath := filepath.Join(root, ".dockerignore")
	if _, err := os.Stat(ignorePath); os.IsNotExist(err) {
		if t.Dockerfile == nil || !copiesBroadContext(t.Dockerfile.Path) {
			return nil, nil
		}
		return []lint.Finding{{
			File:     ignorePath,
			Severity: lint.SeverityWarning,
			Message:  "no .dockerignore and the Dockerfile copies the whole context",
		}}, nil
	}

	lines, err := parseDockerignore(ignorePath)
	if err != nil {
		return nil, fmt.Errorf("dockerignore: reading %s: %w", ignorePath, err)
	}

	broad := t.Dockerfile != nil && copiesBroadContext(t.Dockerfile.Path)

	var findings []lint.Finding
	for _, entry := range sensitiveEntries {
		// .git is always checked; the rest only matter for COPY . .
		if entry.label != ".git" && !broad {
			continue
		}
		if !present(root, entry.testPaths) {
			continue
		}
		if !isCovered(lines, entry.testPaths) {
			findings = append(findings, lint.Finding{
				File:     ignorePath,
				Severity: lint.SeverityWarning,
				Message:  fmt.Sprintf(".dockerignore does not exclude %s (%s)", entry.label, entry.reason),
			})
		}
	}
	findings = append(findings, checkNegations(ignorePath, lines)...)
	return findings, nil
}

// present reports whether any of the test paths exists in the context.
// Entries for files that are not there are not worth a warning.
func present(root string, testPaths []string) bool {
	for _, tp := range testPaths {
		if _, err := os.Lstat(filepath.Join(root, filepath.FromSlash(tp))); err == nil {
			return true
		}
	}
	return false
}

// checkNegations warns when a "!" line re-includes a sensitive path that an
// earlier line excluded.
func checkNegations(file string, lines []string) []lint.Finding {
	var findings []lint.Finding
	for i, line := range lines {
		if !strings.HasPrefix(line, "!") {
			continue
		}
		neg := line[1:]
	entries:
		for _, entry := range sensitiveEntries {
			for _, tp := range entry.testPaths {
				if lint.MatchGlob(neg, tp) && hasPriorExclude(lines[:i], tp) {
					findings = append(findings, lint.Finding{
						File:     file,
						Line:     i + 1,
						Severity: lint.SeverityWarning,
						Message:  fmt.Sprintf(".dockerignore negation '!%s' re-includes %s (%s)", neg, entry.label, entry.reason),
					})
					break entries
				}
			}
		}
	}
	return findings
}

func hasPriorExclude(prior []string, testPath string) bool {
	for _, l := range prior {
		if !strings.HasPrefix(l, "!") && lint.MatchGlob(l, testPath) {
			return true
		}
	}
	return false
}

// parseDockerignore returns the non-comment lines in order.
func parseDockerignore(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// isCovered reports whether every test path is excluded by the final
// state of the ignore list, honoring later negations.
func isCovered(lines []string, testPaths []string) bool {
	for _, tp := range testPaths {
		excluded := false
		for _, pat := range lines {
			if strings.HasPrefix(pat, "!") {
				if lint.MatchGlob(pat[1:], tp) {
					excluded = false
				}
				continue
			}
			if lint.MatchGlob(pat, tp) {
				excluded = true
			}
		}
		if !excluded {
			return false
		}
	}
	return true
}

// copiesBroadContext reports whether a COPY or ADD instruction takes the
// whole context ("." or "./") as a source.
func copiesBroadContext(dockerfilePath string) bool {
	f, err := os.Open(dockerfilePath)
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		switch strings.ToUpper(fields[0]) {
		case "COPY", "ADD":
		default:
			continue
		}
		// Sources are everything between the instruction (and flags) and
		// the destination.
		for _, src := range fields[1 : len(fields)-1] {
			if strings.HasPrefix(src, "--") {
				continue
			}
			if src == "." || src == "./" {
				return true
			}
		}
	}
	return false
}
