// Package diag defines the single diagnostic type shared by the lexer,
// parser and every elaboration pass. Elaboration is fail-fast: the first
// diagnostic aborts the pipeline.
package diag

import (
	"encoding/json"
	"fmt"
)

// Diagnostic locates and describes one elaboration failure.
type Diagnostic struct {
	Pass          int    `json:"pass"`
	ConstructKind string `json:"construct_kind,omitempty"`
	ConstructID   string `json:"construct_id,omitempty"`
	Field         string `json:"field,omitempty"`
	File          string `json:"file"`
	Line          int    `json:"line"`
	Message       string `json:"message"`
}

// New builds a diagnostic with full construct context.
func New(pass int, kind, id, field, file string, line int, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Pass:          pass,
		ConstructKind: kind,
		ConstructID:   id,
		Field:         field,
		File:          file,
		Line:          line,
		Message:       fmt.Sprintf(format, args...),
	}
}

// Lex builds a pass-0 diagnostic with no construct context.
func Lex(file string, line int, format string, args ...any) *Diagnostic {
	return New(0, "", "", "", file, line, format, args...)
}

// Parse builds a pass-0 diagnostic with no construct context.
func Parse(file string, line int, format string, args ...any) *Diagnostic {
	return New(0, "", "", "", file, line, format, args...)
}

func (d *Diagnostic) Error() string {
	loc := fmt.Sprintf("%s:%d", d.File, d.Line)
	if d.ConstructKind != "" {
		return fmt.Sprintf("%s: [pass %d] %s %s: %s", loc, d.Pass, d.ConstructKind, d.ConstructID, d.Message)
	}
	return fmt.Sprintf("%s: [pass %d] %s", loc, d.Pass, d.Message)
}

// MarshalReport renders the diagnostic in the stable report shape, with
// explicit nulls for absent construct context.
func (d *Diagnostic) MarshalReport() ([]byte, error) {
	report := map[string]any{
		"construct_id":   nullable(d.ConstructID),
		"construct_kind": nullable(d.ConstructKind),
		"field":          nullable(d.Field),
		"file":           d.File,
		"line":           d.Line,
		"message":        d.Message,
		"pass":           d.Pass,
	}
	return json.MarshalIndent(report, "", "  ")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
