package eval

import (
	"math"

	"github.com/shopspring/decimal"
)

// ValueKind discriminates runtime values.
type ValueKind int

const (
	KindBool ValueKind = iota
	KindInt
	KindDecimal
	KindText
	KindDate
	KindDateTime
	KindMoney
	KindDuration
	KindEnum
	KindRecord
	KindList
	KindTaggedUnion
)

// Value is a runtime value. All numeric values use decimal arithmetic;
// float64 never enters the evaluation path.
type Value struct {
	Kind     ValueKind
	Bool     bool
	Int      int64 // Int and Duration value
	Dec      decimal.Decimal
	Str      string // Text, Date, DateTime, Enum
	Currency string
	Unit     string
	Fields   map[string]Value
	Elems    []Value
	Tag      string
	Payload  *Value
}

func BoolValue(b bool) Value               { return Value{Kind: KindBool, Bool: b} }
func IntValue(i int64) Value               { return Value{Kind: KindInt, Int: i} }
func DecimalValue(d decimal.Decimal) Value { return Value{Kind: KindDecimal, Dec: d} }
func TextValue(s string) Value             { return Value{Kind: KindText, Str: s} }
func DateValue(s string) Value             { return Value{Kind: KindDate, Str: s} }
func DateTimeValue(s string) Value         { return Value{Kind: KindDateTime, Str: s} }
func EnumValue(s string) Value             { return Value{Kind: KindEnum, Str: s} }
func RecordValue(fields map[string]Value) Value {
	return Value{Kind: KindRecord, Fields: fields}
}
func ListValue(elems []Value) Value { return Value{Kind: KindList, Elems: elems} }

func MoneyValue(amount decimal.Decimal, currency string) Value {
	return Value{Kind: KindMoney, Dec: amount, Currency: currency}
}

func DurationValue(value int64, unit string) Value {
	return Value{Kind: KindDuration, Int: value, Unit: unit}
}

// TypeName returns a human-readable type name for error messages.
func (v Value) TypeName() string {
	switch v.Kind {
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindDecimal:
		return "Decimal"
	case KindText:
		return "Text"
	case KindDate:
		return "Date"
	case KindDateTime:
		return "DateTime"
	case KindMoney:
		return "Money"
	case KindDuration:
		return "Duration"
	case KindEnum:
		return "Enum"
	case KindRecord:
		return "Record"
	case KindList:
		return "List"
	case KindTaggedUnion:
		return "TaggedUnion"
	}
	return "unknown"
}

// AsBool extracts a boolean or returns a type error.
func (v Value) AsBool() (bool, error) {
	if v.Kind != KindBool {
		return false, errType("expected Bool, got %s", v.TypeName())
	}
	return v.Bool, nil
}

// ToJSON renders the value in the kind-tagged output format.
func (v Value) ToJSON() map[string]any {
	switch v.Kind {
	case KindBool:
		return map[string]any{"kind": "bool_value", "value": v.Bool}
	case KindInt:
		return map[string]any{"kind": "int_value", "value": v.Int}
	case KindDecimal:
		return map[string]any{"kind": "decimal_value", "value": v.Dec.String()}
	case KindText:
		return map[string]any{"kind": "text_value", "value": v.Str}
	case KindDate:
		return map[string]any{"kind": "date_value", "value": v.Str}
	case KindDateTime:
		return map[string]any{"kind": "datetime_value", "value": v.Str}
	case KindMoney:
		return map[string]any{"kind": "money_value", "amount": v.Dec.String(), "currency": v.Currency}
	case KindDuration:
		return map[string]any{"kind": "duration_value", "value": v.Int, "unit": v.Unit}
	case KindEnum:
		return map[string]any{"kind": "enum_value", "value": v.Str}
	case KindRecord:
		fields := make(map[string]any, len(v.Fields))
		for name, fv := range v.Fields {
			fields[name] = fv.ToJSON()
		}
		return map[string]any{"kind": "record_value", "fields": fields}
	case KindList:
		elems := make([]any, len(v.Elems))
		for i, e := range v.Elems {
			elems[i] = e.ToJSON()
		}
		return map[string]any{"kind": "list_value", "elements": elems}
	case KindTaggedUnion:
		return map[string]any{"kind": "tagged_union_value", "tag": v.Tag, "payload": v.Payload.ToJSON()}
	}
	return nil
}

// parseDefaultValue parses a default from interchange JSON. Structured
// defaults carry a "kind" discriminator; anything else is a plain value.
func parseDefaultValue(v any, spec *TypeSpec) (Value, error) {
	if kind, ok := jsonField(v, "kind"); ok {
		switch kind {
		case "bool_literal":
			b, ok := mustField(v, "value").(bool)
			if !ok {
				return Value{}, errDeserialize("bool_literal missing 'value'")
			}
			return BoolValue(b), nil
		case "int_literal":
			i := jsonInt(mustField(v, "value"))
			if i == nil {
				return Value{}, errDeserialize("int_literal missing 'value'")
			}
			return IntValue(*i), nil
		case "decimal_value":
			s, ok := mustField(v, "value").(string)
			if !ok {
				return Value{}, errDeserialize("decimal_value missing 'value'")
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return Value{}, errDeserialize("invalid decimal: %v", err)
			}
			return DecimalValue(d), nil
		case "money_value":
			currency, err := jsonString(v, "currency")
			if err != nil {
				return Value{}, err
			}
			amountObj, ok := jsonField(v, "amount")
			if !ok {
				return Value{}, errDeserialize("money_value missing 'amount'")
			}
			amountStr, ok := mustField(amountObj, "value").(string)
			if !ok {
				return Value{}, errDeserialize("money_value amount missing 'value'")
			}
			amount, err2 := decimal.NewFromString(amountStr)
			if err2 != nil {
				return Value{}, errDeserialize("invalid money amount: %v", err2)
			}
			return MoneyValue(amount, currency), nil
		}
	}
	return parsePlainValue(v, spec)
}

// parsePlainValue parses a plain JSON value (no "kind" wrapper) according
// to the declared type.
func parsePlainValue(v any, spec *TypeSpec) (Value, error) {
	switch spec.Base {
	case "Bool":
		b, ok := v.(bool)
		if !ok {
			return Value{}, errDeserialize("expected boolean")
		}
		return BoolValue(b), nil
	case "Int":
		i := jsonInt64(v)
		if i == nil {
			return Value{}, errDeserialize("expected integer")
		}
		return IntValue(*i), nil
	case "Decimal":
		// Either a plain string or a structured decimal_value object.
		s, ok := v.(string)
		if !ok {
			if inner, ok2 := jsonField(v, "value"); ok2 {
				s, ok = inner.(string)
			}
			if !ok {
				return Value{}, errDeserialize("Decimal must be a string or structured decimal_value")
			}
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Value{}, errDeserialize("invalid decimal: %v", err)
		}
		return DecimalValue(d), nil
	case "Money":
		amountVal, ok := jsonField(v, "amount")
		if !ok {
			return Value{}, errDeserialize("Money value missing 'amount' field")
		}
		amountStr, ok := amountVal.(string)
		if !ok {
			if inner, ok2 := jsonField(amountVal, "value"); ok2 {
				amountStr, ok = inner.(string)
			}
			if !ok {
				return Value{}, errDeserialize("Money 'amount' must be a string or structured decimal_value")
			}
		}
		amount, err := decimal.NewFromString(amountStr)
		if err != nil {
			return Value{}, errDeserialize("invalid money amount: %v", err)
		}
		currency, _ := mustField(v, "currency").(string)
		if currency == "" {
			currency = spec.Currency
		}
		return MoneyValue(amount, currency), nil
	case "Text":
		s, ok := v.(string)
		if !ok {
			return Value{}, errDeserialize("expected text string")
		}
		return TextValue(s), nil
	case "Date":
		s, ok := v.(string)
		if !ok {
			return Value{}, errDeserialize("expected date string")
		}
		return DateValue(s), nil
	case "DateTime":
		s, ok := v.(string)
		if !ok {
			return Value{}, errDeserialize("expected datetime string")
		}
		return DateTimeValue(s), nil
	case "Duration":
		val := jsonInt64(mustField(v, "value"))
		if val == nil {
			return Value{}, errDeserialize("Duration missing 'value'")
		}
		unit, _ := mustField(v, "unit").(string)
		if unit == "" {
			unit = spec.Unit
		}
		if unit == "" {
			unit = "seconds"
		}
		return DurationValue(*val, unit), nil
	case "Enum":
		s, ok := v.(string)
		if !ok {
			return Value{}, errDeserialize("expected enum string")
		}
		return EnumValue(s), nil
	case "Record":
		obj, ok := v.(map[string]any)
		if !ok {
			return Value{}, errDeserialize("expected record object")
		}
		if spec.Fields == nil {
			return Value{}, errDeserialize("Record type missing 'fields'")
		}
		fields := make(map[string]Value, len(spec.Fields))
		for name, ft := range spec.Fields {
			fv, ok := obj[name]
			if !ok {
				return Value{}, errDeserialize("Record missing field '%s'", name)
			}
			parsed, err := parsePlainValue(fv, ft)
			if err != nil {
				return Value{}, err
			}
			fields[name] = parsed
		}
		return RecordValue(fields), nil
	case "List":
		arr, ok := v.([]any)
		if !ok {
			return Value{}, errDeserialize("expected list array")
		}
		if spec.ElementType == nil {
			return Value{}, errDeserialize("List type missing 'element_type'")
		}
		elems := make([]Value, 0, len(arr))
		for _, item := range arr {
			parsed, err := parsePlainValue(item, spec.ElementType)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, parsed)
		}
		return ListValue(elems), nil
	case "TaggedUnion":
		obj, ok := v.(map[string]any)
		if !ok {
			return Value{}, errDeserialize("expected tagged union object")
		}
		tag, ok := obj["tag"].(string)
		if !ok {
			return Value{}, errDeserialize("TaggedUnion missing 'tag'")
		}
		payloadVal, ok := obj["payload"]
		if !ok {
			return Value{}, errDeserialize("TaggedUnion missing 'payload'")
		}
		if spec.Variants == nil {
			return Value{}, errDeserialize("TaggedUnion type missing 'variants'")
		}
		vt, ok := spec.Variants[tag]
		if !ok {
			return Value{}, errDeserialize("unknown TaggedUnion variant '%s'", tag)
		}
		payload, err := parsePlainValue(payloadVal, vt)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindTaggedUnion, Tag: tag, Payload: &payload}, nil
	default:
		return Value{}, errDeserialize("unsupported type base: %s", spec.Base)
	}
}

// parseLiteralValue parses an interchange literal. Scalar bases take the
// JSON value raw; structured bases go through the kind-tagged path.
func parseLiteralValue(v any, spec *TypeSpec) (Value, error) {
	switch spec.Base {
	case "Bool":
		b, ok := v.(bool)
		if !ok {
			return Value{}, errDeserialize("expected boolean literal")
		}
		return BoolValue(b), nil
	case "Int":
		i := jsonInt64(v)
		if i == nil {
			return Value{}, errDeserialize("expected integer literal")
		}
		return IntValue(*i), nil
	case "Text":
		s, ok := v.(string)
		if !ok {
			return Value{}, errDeserialize("expected text literal")
		}
		return TextValue(s), nil
	case "Enum":
		s, ok := v.(string)
		if !ok {
			return Value{}, errDeserialize("expected enum literal")
		}
		return EnumValue(s), nil
	default:
		return parseDefaultValue(v, spec)
	}
}

// inferLiteral infers a value and type when the literal node omits "type"
// (the elaborator drops it for some text comparisons).
func inferLiteral(v any) (Value, *TypeSpec, error) {
	switch t := v.(type) {
	case bool:
		return BoolValue(t), baseType("Bool"), nil
	case string:
		return TextValue(t), baseType("Text"), nil
	default:
		if i := jsonInt64(v); i != nil {
			return IntValue(*i), baseType("Int"), nil
		}
	}
	return Value{}, nil, errDeserialize("cannot infer type for literal: %v", v)
}

// jsonInt64 reads an integer-valued JSON number, rejecting fractional
// float64 input the way serde's as_i64 does.
func jsonInt64(v any) *int64 {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return nil
		}
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

func mustField(obj any, field string) any {
	v, _ := jsonField(obj, field)
	return v
}
