package lint

import "fmt"

// Severity indicates how serious a finding is.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Finding represents a single lint result for one image.
type Finding struct {
	Node     string
	File     string // "" when the finding is about configuration
	Line     int
	Module   string
	Severity Severity
	Message  string
}

func (f Finding) String() string {
	loc := f.Node
	if f.File != "" {
		loc = fmt.Sprintf("%s (%s:%d)", f.Node, f.File, f.Line)
	}
	return fmt.Sprintf("%s: %s [%s/%s]", loc, f.Message, f.Module, f.Severity)
}

// HasCritical reports whether any finding is critical.
func HasCritical(findings []Finding) bool {
	for _, f := range findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
