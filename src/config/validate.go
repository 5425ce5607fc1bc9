package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural invariants of a loaded Config. Image entries
// are validated when they are parsed into nodes; only their presence is
// checked here. Returns warnings (soft issues) and a hard error.
func Validate(cfg *Config) (warnings []string, err error) {
	var errs []string

	if cfg.Version != 1 {
		errs = append(errs, fmt.Sprintf("version: must be 1, got %d", cfg.Version))
	}

	if verr := validate.Struct(cfg.Build); verr != nil {
		errs = append(errs, FieldErrors("build", verr)...)
	}

	if len(cfg.Images) == 0 {
		errs = append(errs, "images: at least one image is required")
	}

	if cfg.Build.RemoveAfter && cfg.Build.Engine == "kaniko" {
		warnings = append(warnings, "build.remove_after has no effect with the kaniko engine")
	}
	if cfg.Build.PushConcurrency > 0 && cfg.Build.PushConcurrency > cfg.Build.Concurrency {
		warnings = append(warnings, "build.push_concurrency exceeds build.concurrency and never limits anything")
	}

	if len(errs) > 0 {
		return warnings, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return warnings, nil
}

// ValidateImage runs the struct-tag rules of one image definition.
func ValidateImage(ic ImageConfig) error {
	return validate.Struct(ic)
}

// FieldErrors renders validator errors as "prefix.field: message" strings.
func FieldErrors(prefix string, err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{fmt.Sprintf("%s: %v", prefix, err)}
	}

	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Sprintf("%s.%s: %s", prefix, yamlName(fe.StructField()), describe(fe)))
	}
	return out
}

// FirstFieldError returns the yaml field name and message of the first
// validation failure in err.
func FirstFieldError(err error) (field, msg string) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return yamlName(verrs[0].StructField()), describe(verrs[0])
	}
	return "", err.Error()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "is required"
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	case "oneof":
		return fmt.Sprintf("must be one of %s (got %v)", strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// yamlName maps a Go struct field name to its snake_case config key.
// StructField() keeps index suffixes ("Tags[1]"), which are preserved.
func yamlName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && field[i-1] >= 'a' && field[i-1] <= 'z' {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
