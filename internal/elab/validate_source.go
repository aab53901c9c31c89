package elab

import (
	"strings"

	"tenor/internal/ast"
	"tenor/internal/diag"
)

// requiredSourceFields maps each built-in protocol tag to the field its
// declaration must carry.
var requiredSourceFields = map[string]string{
	"http":     "base_url",
	"database": "dialect",
	"graphql":  "endpoint",
	"grpc":     "endpoint",
	"static":   "",
	"manual":   "",
}

func validateSource(s *ast.Source) *diag.Diagnostic {
	if strings.HasPrefix(s.Protocol, "x_") {
		if !validExtensionTag(s.Protocol) {
			return diag.New(5, "Source", s.ID, "protocol",
				s.Provenance.File, s.Provenance.Line,
				"invalid extension protocol tag '%s'", s.Protocol)
		}
		return nil
	}

	required, known := requiredSourceFields[s.Protocol]
	if !known {
		return diag.New(5, "Source", s.ID, "protocol",
			s.Provenance.File, s.Provenance.Line,
			"unknown protocol tag '%s'", s.Protocol)
	}
	if required != "" {
		if _, ok := s.Fields[required]; !ok {
			return diag.New(5, "Source", s.ID, required,
				s.Provenance.File, s.Provenance.Line,
				"source '%s' with protocol '%s' is missing required field '%s'",
				s.ID, s.Protocol, required)
		}
	}
	return nil
}

// validExtensionTag accepts dotted tags like x_internal.event_bus: each dot
// separated segment starts with a lowercase letter and contains only
// lowercase letters, digits, and underscores.
func validExtensionTag(tag string) bool {
	if strings.HasSuffix(tag, ".") {
		return false
	}
	for _, seg := range strings.Split(tag, ".") {
		if seg == "" || seg == ".." {
			return false
		}
		for i, r := range seg {
			if i == 0 {
				if r < 'a' || r > 'z' {
					return false
				}
				continue
			}
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
				return false
			}
		}
	}
	return true
}
