package eval

import "github.com/shopspring/decimal"

func i64(n int64) *int64 { return &n }

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func intType(min, max int64) *TypeSpec {
	return &TypeSpec{Base: "Int", Min: i64(min), Max: i64(max)}
}

func decimalType(precision, scale int64) *TypeSpec {
	return &TypeSpec{Base: "Decimal", Precision: i64(precision), Scale: i64(scale)}
}

func enumType(values ...string) *TypeSpec {
	return &TypeSpec{Base: "Enum", Values: values}
}

// loanContract is a small lending contract used across the engine tests:
// two facts, one entity, two strata of rules, an operation, and a flow.
func loanContract() *Contract {
	approveRule := &Rule{
		ID:      "approve_small_loans",
		Stratum: 0,
		When: ComparePred{
			Left:  FactRefPred{FactID: "loan_amount"},
			Op:    "<=",
			Right: LiteralPred{Value: IntValue(10000)},
		},
		Produce: Produce{
			VerdictType: "loan_approved",
			PayloadType: baseType("Bool"),
			Literal:     boolPtr(true),
		},
	}
	notifyRule := &Rule{
		ID:      "notify_on_approval",
		Stratum: 1,
		When:    VerdictPresentPred{VerdictType: "loan_approved"},
		Produce: Produce{
			VerdictType: "notify_applicant",
			PayloadType: baseType("Bool"),
			Literal:     boolPtr(true),
		},
	}
	approveOp := &Operation{
		ID:              "approve_loan",
		AllowedPersonas: []string{"underwriter"},
		Precondition:    VerdictPresentPred{VerdictType: "loan_approved"},
		Effects: []Effect{
			{EntityID: "loan", From: "pending", To: "approved"},
		},
	}
	disburseOp := &Operation{
		ID:              "disburse_loan",
		AllowedPersonas: []string{"underwriter"},
		Precondition:    LiteralPred{Value: BoolValue(true)},
		Effects: []Effect{
			{EntityID: "loan", From: "approved", To: "disbursed"},
		},
	}
	flow := &Flow{
		ID:    "approval_flow",
		Entry: "approve",
		Steps: []FlowStep{
			&OperationStep{
				ID:      "approve",
				Op:      "approve_loan",
				Persona: "underwriter",
				Outcomes: map[string]StepTarget{
					"success": {Step: "disburse"},
				},
			},
			&OperationStep{
				ID:      "disburse",
				Op:      "disburse_loan",
				Persona: "underwriter",
				Outcomes: map[string]StepTarget{
					"success": {Outcome: "completed", Terminal: true},
				},
			},
		},
	}
	return &Contract{
		ID: "lending",
		Facts: map[string]*FactDecl{
			"loan_amount": {ID: "loan_amount", Type: intType(0, 1000000)},
			"applicant_score": {
				ID:      "applicant_score",
				Type:    intType(0, 850),
				Default: intPtr(600),
			},
		},
		Entities: map[string]*Entity{
			"loan": {
				ID:      "loan",
				States:  []string{"pending", "approved", "disbursed"},
				Initial: "pending",
				Transitions: []Transition{
					{From: "pending", To: "approved"},
					{From: "approved", To: "disbursed"},
				},
			},
		},
		Rules:      []*Rule{notifyRule, approveRule},
		Operations: map[string]*Operation{"approve_loan": approveOp, "disburse_loan": disburseOp},
		Flows:      map[string]*Flow{"approval_flow": flow},
		Personas:   map[string]bool{"underwriter": true, "applicant": true},
	}
}

func boolPtr(b bool) *Value {
	v := BoolValue(b)
	return &v
}

func intPtr(n int64) *Value {
	v := IntValue(n)
	return &v
}
