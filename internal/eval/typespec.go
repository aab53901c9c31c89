package eval

// TypeSpec is the runtime view of an interchange type. Every field
// except Base is optional; absence is represented with nil pointers so
// a declared zero is distinguishable from "not set".
type TypeSpec struct {
	Base        string
	Precision   *int64
	Scale       *int64
	Currency    string
	Min         *int64
	Max         *int64
	MaxLength   *int64
	Values      []string
	Fields      map[string]*TypeSpec
	ElementType *TypeSpec
	Unit        string
	Variants    map[string]*TypeSpec
}

func baseType(base string) *TypeSpec { return &TypeSpec{Base: base} }

// typeSpecFromJSON parses an interchange type object.
func typeSpecFromJSON(v any) (*TypeSpec, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errDeserialize("TypeSpec must be a JSON object")
	}
	base, ok := obj["base"].(string)
	if !ok {
		return nil, errDeserialize("TypeSpec missing 'base' field")
	}
	ts := &TypeSpec{Base: base}
	ts.Precision = jsonInt(obj["precision"])
	ts.Scale = jsonInt(obj["scale"])
	ts.Min = jsonInt(obj["min"])
	ts.Max = jsonInt(obj["max"])
	ts.MaxLength = jsonInt(obj["max_length"])
	ts.Currency, _ = obj["currency"].(string)
	ts.Unit, _ = obj["unit"].(string)

	if arr, ok := obj["values"].([]any); ok {
		for _, item := range arr {
			if s, ok := item.(string); ok {
				ts.Values = append(ts.Values, s)
			}
		}
	}
	if fields, ok := obj["fields"].(map[string]any); ok {
		ts.Fields = make(map[string]*TypeSpec, len(fields))
		for name, ft := range fields {
			parsed, err := typeSpecFromJSON(ft)
			if err != nil {
				return nil, err
			}
			ts.Fields[name] = parsed
		}
	}
	if et, ok := obj["element_type"]; ok && et != nil {
		parsed, err := typeSpecFromJSON(et)
		if err != nil {
			return nil, err
		}
		ts.ElementType = parsed
	}
	if variants, ok := obj["variants"].(map[string]any); ok {
		ts.Variants = make(map[string]*TypeSpec, len(variants))
		for tag, vt := range variants {
			parsed, err := typeSpecFromJSON(vt)
			if err != nil {
				return nil, err
			}
			ts.Variants[tag] = parsed
		}
	}
	return ts, nil
}

// jsonInt reads an integral JSON value. Bundles decoded from bytes carry
// float64; bundles built in memory carry int or int64.
func jsonInt(v any) *int64 {
	switch n := v.(type) {
	case float64:
		i := int64(n)
		return &i
	case int:
		i := int64(n)
		return &i
	case int64:
		return &n
	}
	return nil
}

func jsonIntOr(v any, fallback int64) int64 {
	if p := jsonInt(v); p != nil {
		return *p
	}
	return fallback
}

func jsonString(obj any, field string) (string, error) {
	m, ok := obj.(map[string]any)
	if !ok {
		return "", errDeserialize("missing string field '%s'", field)
	}
	s, ok := m[field].(string)
	if !ok {
		return "", errDeserialize("missing string field '%s'", field)
	}
	return s, nil
}

func jsonField(obj any, field string) (any, bool) {
	m, ok := obj.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := m[field]
	return v, ok
}
