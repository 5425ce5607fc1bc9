package image

import "fmt"

// DefinitionError reports a malformed image definition. It is raised while
// parsing, before any graph is built or any build starts.
type DefinitionError struct {
	ID     string // offending identifier (or "images[i]" when it has none)
	Field  string // violated field, e.g. "context", "parent"
	Reason string
}

func (e *DefinitionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("image %s: %s", e.ID, e.Reason)
	}
	return fmt.Sprintf("image %s: %s: %s", e.ID, e.Field, e.Reason)
}
