package eval

import "fmt"

// Code classifies an evaluation error.
type Code string

const (
	CodeMissingFact     Code = "missing_fact"
	CodeTypeMismatch    Code = "type_mismatch"
	CodeOverflow        Code = "overflow"
	CodeInvalidOperator Code = "invalid_operator"
	CodeUnknownFact     Code = "unknown_fact"
	CodeUnknownVerdict  Code = "unknown_verdict"
	CodeDeserialize     Code = "deserialize"
	CodeTypeError       Code = "type_error"
	CodeListOverflow    Code = "list_overflow"
	CodeInvalidEnum     Code = "invalid_enum"
	CodeNotARecord      Code = "not_a_record"
	CodeUnboundVariable Code = "unbound_variable"
	CodeFlowError       Code = "flow_error"
)

// Error is an evaluation failure. Message formats are part of the
// public surface; callers match on Code, humans read Message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

func errMissingFact(factID string) *Error {
	return &Error{CodeMissingFact, fmt.Sprintf("missing required fact: %s", factID)}
}

func errTypeMismatch(factID, expected, got string) *Error {
	return &Error{CodeTypeMismatch, fmt.Sprintf("type mismatch for fact '%s': expected %s, got %s", factID, expected, got)}
}

func errOverflow(format string, args ...any) *Error {
	return &Error{CodeOverflow, "numeric overflow: " + fmt.Sprintf(format, args...)}
}

func errInvalidOperator(op string) *Error {
	return &Error{CodeInvalidOperator, fmt.Sprintf("invalid operator: %s", op)}
}

func errUnknownFact(factID string) *Error {
	return &Error{CodeUnknownFact, fmt.Sprintf("unknown fact: %s", factID)}
}

func errDeserialize(format string, args ...any) *Error {
	return &Error{CodeDeserialize, "deserialization error: " + fmt.Sprintf(format, args...)}
}

func errType(format string, args ...any) *Error {
	return &Error{CodeTypeError, "type error: " + fmt.Sprintf(format, args...)}
}

func errListOverflow(factID string, actual int, max int64) *Error {
	return &Error{CodeListOverflow, fmt.Sprintf("list fact '%s' has %d elements, max is %d", factID, actual, max)}
}

func errInvalidEnum(factID, value string, variants []string) *Error {
	return &Error{CodeInvalidEnum, fmt.Sprintf("invalid enum value '%s' for fact '%s', valid: %v", value, factID, variants)}
}

func errNotARecord(format string, args ...any) *Error {
	return &Error{CodeNotARecord, "not a record: " + fmt.Sprintf(format, args...)}
}

func errUnboundVariable(name string) *Error {
	return &Error{CodeUnboundVariable, fmt.Sprintf("unbound variable: %s", name)}
}

func errFlow(flowID, format string, args ...any) *Error {
	return &Error{CodeFlowError, fmt.Sprintf("flow error in '%s': %s", flowID, fmt.Sprintf(format, args...))}
}
