package eval

import (
	"math"

	"github.com/shopspring/decimal"
)

// promoteIntToDecimal widens an Int to a Decimal at the target scale.
// Rounding is banker's rounding (round half to even).
func promoteIntToDecimal(i int64, scale int64) decimal.Decimal {
	return decimal.NewFromInt(i).RoundBank(int32(scale))
}

// evalDecimalMul multiplies two decimals, rounds the result to the target
// scale, and enforces the declared precision.
func evalDecimalMul(left, right decimal.Decimal, precision, scale int64) (decimal.Decimal, error) {
	result := left.Mul(right).RoundBank(int32(scale))
	if err := checkPrecision(result, precision, scale); err != nil {
		return decimal.Decimal{}, err
	}
	return result, nil
}

// evalIntMul multiplies two ints with overflow detection, then checks the
// result against the declared range when one is present.
func evalIntMul(left, right int64, min, max *int64) (int64, error) {
	result, ok := checkedMulInt64(left, right)
	if !ok {
		return 0, errOverflow("integer multiplication overflow")
	}
	if min != nil && max != nil && (result < *min || result > *max) {
		return 0, errOverflow("result %d outside declared range [%d, %d]", result, *min, *max)
	}
	return result, nil
}

func checkedMulInt64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	// MinInt64 * -1 wraps to MinInt64 and the division check cannot
	// see it: MinInt64 / -1 == MinInt64 in two's complement.
	if (a == math.MinInt64 && b == -1) || (b == math.MinInt64 && a == -1) {
		return 0, false
	}
	result := a * b
	if result/b != a {
		return 0, false
	}
	return result, true
}

// checkPrecision rejects results whose integer part exceeds the declared
// precision. precision counts total digits, scale the fractional digits.
func checkPrecision(result decimal.Decimal, precision, scale int64) error {
	maxIntDigits := precision - scale
	if maxIntDigits <= 0 {
		// No room for an integer part: anything at or beyond 1 overflows.
		if result.Abs().GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return errOverflow("result %s exceeds declared precision(%d, %d)", result.String(), precision, scale)
		}
		return nil
	}
	bound := decimal.New(1, int32(maxIntDigits))
	if result.Abs().GreaterThanOrEqual(bound) {
		return errOverflow("result %s exceeds declared precision(%d, %d)", result.String(), precision, scale)
	}
	return nil
}

// compareValues applies a comparison operator to two values. When the
// checker recorded a comparison_type, operands are coerced to that type
// first; otherwise both sides must already share a type.
func compareValues(left, right Value, op string, comparisonType *TypeSpec) (bool, error) {
	if comparisonType != nil {
		switch comparisonType.Base {
		case "Decimal":
			l, err := coerceToDecimal(left)
			if err != nil {
				return false, err
			}
			r, err := coerceToDecimal(right)
			if err != nil {
				return false, err
			}
			return applyDecimalOp(l, r, op)
		case "Money":
			lAmount, lCur, err := coerceToMoney(left)
			if err != nil {
				return false, err
			}
			rAmount, rCur, err := coerceToMoney(right)
			if err != nil {
				return false, err
			}
			if lCur != rCur {
				return false, errType("cannot compare Money with different currencies: %s vs %s", lCur, rCur)
			}
			return applyDecimalOp(lAmount, rAmount, op)
		case "Int":
			l, err := coerceToInt(left)
			if err != nil {
				return false, err
			}
			r, err := coerceToInt(right)
			if err != nil {
				return false, err
			}
			return applyIntOp(l, r, op)
		}
	}
	return compareDirect(left, right, op)
}

func compareDirect(left, right Value, op string) (bool, error) {
	switch {
	case left.Kind == KindBool && right.Kind == KindBool:
		return applyEqOp(left.Bool == right.Bool, op, "Bool")
	case left.Kind == KindInt && right.Kind == KindInt:
		return applyIntOp(left.Int, right.Int, op)
	case left.Kind == KindDecimal && right.Kind == KindDecimal:
		return applyDecimalOp(left.Dec, right.Dec, op)
	case left.Kind == KindText && right.Kind == KindText:
		switch op {
		case "=", "!=":
			return applyEqOp(left.Str == right.Str, op, "Text")
		default:
			return false, errType("operator '%s' not defined for Text; Text supports only = and !=", op)
		}
	case left.Kind == KindEnum && right.Kind == KindEnum:
		switch op {
		case "=", "!=":
			return applyEqOp(left.Str == right.Str, op, "Enum")
		default:
			return false, errType("operator '%s' not defined for Enum; Enum supports only = and !=", op)
		}
	case left.Kind == KindMoney && right.Kind == KindMoney:
		if left.Currency != right.Currency {
			return false, errType("cannot compare Money with different currencies: %s vs %s", left.Currency, right.Currency)
		}
		return applyDecimalOp(left.Dec, right.Dec, op)
	case left.Kind == KindDate && right.Kind == KindDate,
		left.Kind == KindDateTime && right.Kind == KindDateTime:
		// ISO 8601 strings order lexicographically.
		return applyStringOrderOp(left.Str, right.Str, op)
	case left.Kind == KindDuration && right.Kind == KindDuration:
		if left.Unit != right.Unit {
			return false, errType("cannot compare Duration with different units: %s vs %s (cross-unit Duration comparison not supported)", left.Unit, right.Unit)
		}
		return applyIntOp(left.Int, right.Int, op)
	default:
		return false, errType("cannot compare %s with %s", left.TypeName(), right.TypeName())
	}
}

func coerceToDecimal(v Value) (decimal.Decimal, error) {
	switch v.Kind {
	case KindDecimal:
		return v.Dec, nil
	case KindInt:
		return decimal.NewFromInt(v.Int), nil
	}
	return decimal.Decimal{}, errType("cannot coerce %s to Decimal", v.TypeName())
}

func coerceToMoney(v Value) (decimal.Decimal, string, error) {
	if v.Kind != KindMoney {
		return decimal.Decimal{}, "", errType("cannot coerce %s to Money", v.TypeName())
	}
	return v.Dec, v.Currency, nil
}

func coerceToInt(v Value) (int64, error) {
	if v.Kind != KindInt {
		return 0, errType("cannot coerce %s to Int", v.TypeName())
	}
	return v.Int, nil
}

func applyEqOp(equal bool, op, typeName string) (bool, error) {
	switch op {
	case "=":
		return equal, nil
	case "!=":
		return !equal, nil
	}
	return false, errType("operator '%s' not defined for %s; %s supports only = and !=", op, typeName, typeName)
}

func applyIntOp(l, r int64, op string) (bool, error) {
	switch op {
	case "=":
		return l == r, nil
	case "!=":
		return l != r, nil
	case "<":
		return l < r, nil
	case "<=":
		return l <= r, nil
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	}
	return false, errInvalidOperator(op)
}

func applyDecimalOp(l, r decimal.Decimal, op string) (bool, error) {
	cmp := l.Cmp(r)
	switch op {
	case "=":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	}
	return false, errInvalidOperator(op)
}

func applyStringOrderOp(l, r string, op string) (bool, error) {
	switch op {
	case "=":
		return l == r, nil
	case "!=":
		return l != r, nil
	case "<":
		return l < r, nil
	case "<=":
		return l <= r, nil
	case ">":
		return l > r, nil
	case ">=":
		return l >= r, nil
	}
	return false, errInvalidOperator(op)
}
