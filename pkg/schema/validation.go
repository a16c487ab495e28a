package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity indicates whether an issue blocks the document or only
// flags it.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found at a dotted path such as
// "nodes[2].connections[0]" or "schedule.time".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" || i.Path == "/" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationResult collects issues from one or more checks. The zero value
// is ready to use.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether no errors were recorded. Warnings do not count.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Errorf records an error at path.
func (r *ValidationResult) Errorf(path, format string, args ...any) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityError,
	})
}

// Warnf records a warning at path.
func (r *ValidationResult) Warnf(path, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Message: fmt.Sprintf(format, args...), Severity: SeverityWarning,
	})
}

// Merge appends the issues of other unchanged.
func (r *ValidationResult) Merge(other *ValidationResult) {
	r.Nest("", other)
}

// Nest appends the issues of other with prefix joined onto their paths.
func (r *ValidationResult) Nest(prefix string, other *ValidationResult) {
	if other == nil {
		return
	}
	for _, i := range other.Errors {
		i.Path = joinPath(prefix, i.Path)
		r.Errors = append(r.Errors, i)
	}
	for _, i := range other.Warnings {
		i.Path = joinPath(prefix, i.Path)
		r.Warnings = append(r.Warnings, i)
	}
}

func joinPath(prefix, path string) string {
	switch {
	case prefix == "":
		return path
	case path == "" || path == "/":
		return prefix
	case strings.HasPrefix(path, "["):
		return prefix + path
	default:
		return prefix + "." + path
	}
}

// ToError returns nil when valid, otherwise a VALIDATION_ERROR whose message
// names the first error and whose details list every issue.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].String()
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("%s (and %d more errors)", msg, len(r.Errors)-1)
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
