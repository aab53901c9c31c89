package eval

import (
	"fmt"
	"sort"
	"time"
)

// AssembleFacts builds a FactSet from raw input JSON against the
// contract's fact declarations. Declared facts are parsed and validated;
// missing facts fall back to their defaults; extra input keys are
// ignored.
func AssembleFacts(contract *Contract, factsJSON any) (*FactSet, error) {
	input, ok := factsJSON.(map[string]any)
	if !ok {
		return nil, errDeserialize("facts must be a JSON object")
	}
	fs := NewFactSet()
	for _, id := range sortedFactIDs(contract.Facts) {
		decl := contract.Facts[id]
		raw, present := input[id]
		if !present {
			if decl.Default != nil {
				fs.Set(id, *decl.Default)
				continue
			}
			return nil, errMissingFact(id)
		}
		value, err := parsePlainValue(raw, decl.Type)
		if err != nil {
			return nil, errTypeMismatch(id, decl.Type.Base, jsonTypeName(raw))
		}
		if err := validateValue(id, value, decl.Type); err != nil {
			return nil, err
		}
		fs.Set(id, value)
	}
	return fs, nil
}

func sortedFactIDs(facts map[string]*FactDecl) []string {
	ids := make([]string, 0, len(facts))
	for id := range facts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// validateValue enforces the declared constraints on a parsed value.
func validateValue(factID string, v Value, spec *TypeSpec) error {
	switch spec.Base {
	case "Enum":
		for _, valid := range spec.Values {
			if v.Str == valid {
				return nil
			}
		}
		return errInvalidEnum(factID, v.Str, spec.Values)
	case "List":
		if spec.Max != nil && int64(len(v.Elems)) > *spec.Max {
			return errListOverflow(factID, len(v.Elems), *spec.Max)
		}
		if spec.ElementType != nil {
			for _, elem := range v.Elems {
				if err := validateValue(factID, elem, spec.ElementType); err != nil {
					return err
				}
			}
		}
	case "Int":
		if spec.Min != nil && spec.Max != nil && (v.Int < *spec.Min || v.Int > *spec.Max) {
			return errTypeMismatch(factID,
				fmt.Sprintf("Int(%d, %d)", *spec.Min, *spec.Max),
				fmt.Sprintf("%d", v.Int))
		}
	case "Text":
		if spec.MaxLength != nil && int64(len(v.Str)) > *spec.MaxLength {
			return errTypeMismatch(factID,
				fmt.Sprintf("Text(max_length=%d)", *spec.MaxLength),
				fmt.Sprintf("text of length %d", len(v.Str)))
		}
	case "Date":
		if _, err := time.Parse("2006-01-02", v.Str); err != nil {
			return errType("fact '%s': invalid Date format '%s', expected ISO 8601 (YYYY-MM-DD)", factID, v.Str)
		}
	case "DateTime":
		if !validDateTime(v.Str) {
			return errType("fact '%s': invalid DateTime format '%s', expected ISO 8601 (YYYY-MM-DDT...)", factID, v.Str)
		}
	case "Duration":
		switch v.Unit {
		case "seconds", "minutes", "hours", "days":
		default:
			return errType("fact '%s': invalid Duration unit '%s', expected one of: seconds, minutes, hours, days", factID, v.Unit)
		}
	case "Record":
		if spec.Fields != nil {
			for name, ft := range spec.Fields {
				if fv, ok := v.Fields[name]; ok {
					if err := validateValue(factID, fv, ft); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func validDateTime(s string) bool {
	if len(s) < 19 {
		return false
	}
	_, err := time.Parse("2006-01-02T15:04:05", s[:19])
	return err == nil
}

// jsonTypeName names a raw JSON value's type for mismatch messages.
func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return "unknown"
}
