package modules

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/sofmeright/treebuild/src/lint"
)

func init() {
	lint.Register("secrets", func() lint.Module { return &secretsModule{} })
}

// secretsModule scans build arg values and the Dockerfile with the
// gitleaks default rule set. Build args end up in image history, so a
// secret there is critical.
type secretsModule struct {
	once     sync.Once
	initErr  error
	mu       sync.Mutex // the detector is not safe for concurrent use
	detector *detect.Detector
}

func (m *secretsModule) Name() string { return "secrets" }

func (m *secretsModule) load() error {
	m.once.Do(func() {
		m.detector, m.initErr = detect.NewDetectorDefaultConfig()
	})
	return m.initErr
}

func (m *secretsModule) Check(ctx context.Context, t lint.Target) ([]lint.Finding, error) {
	if err := m.load(); err != nil {
		return nil, err
	}

	var findings []lint.Finding

	keys := make([]string, 0, len(t.Node.BuildArgs))
	for k := range t.Node.BuildArgs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.mu.Lock()
		hits := m.detector.DetectString(k + "=" + t.Node.BuildArgs[k])
		m.mu.Unlock()
		for _, h := range hits {
			findings = append(findings, lint.Finding{
				Severity: lint.SeverityCritical,
				Message:  fmt.Sprintf("build arg %s looks like a secret: %s (%s)", k, h.Description, h.RuleID),
			})
		}
	}

	if t.Dockerfile == nil {
		return findings, nil
	}
	data, err := os.ReadFile(t.Dockerfile.Path)
	if err != nil {
		return findings, nil
	}
	m.mu.Lock()
	hits := m.detector.DetectBytes(data)
	m.mu.Unlock()
	for _, h := range hits {
		findings = append(findings, lint.Finding{
			File:     t.Dockerfile.Path,
			Line:     h.StartLine + 1, // gitleaks is 0-indexed
			Severity: lint.SeverityCritical,
			Message:  h.Description + " (" + h.RuleID + ")",
		})
	}
	return findings, nil
}
