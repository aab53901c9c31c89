package eval

// EvalStrata runs every rule in stratum order and returns the derived
// verdicts. Within a stratum, rules fire in declaration order; each rule
// sees the verdicts of all lower strata plus earlier rules of its own.
func EvalStrata(contract *Contract, facts *FactSet) (*VerdictSet, error) {
	verdicts := NewVerdictSet()
	maxStratum := int64(0)
	for _, r := range contract.Rules {
		if r.Stratum > maxStratum {
			maxStratum = r.Stratum
		}
	}
	for stratum := int64(0); stratum <= maxStratum; stratum++ {
		for _, rule := range contract.Rules {
			if rule.Stratum != stratum {
				continue
			}
			collector := newProvenanceCollector()
			ctx := newEvalContext()
			result, err := evalPred(rule.When, facts, verdicts, collector, ctx)
			if err != nil {
				return nil, err
			}
			fired, err := result.AsBool()
			if err != nil {
				return nil, err
			}
			if !fired {
				continue
			}
			payload, err := rulePayload(rule, facts, verdicts, collector, ctx)
			if err != nil {
				return nil, err
			}
			verdicts.Add(Verdict{
				Type:       rule.Produce.VerdictType,
				Payload:    payload,
				Provenance: collector.intoProvenance(rule.ID, rule.Stratum),
			})
		}
	}
	return verdicts, nil
}

func rulePayload(rule *Rule, facts *FactSet, verdicts *VerdictSet, collector *provenanceCollector, ctx *evalContext) (Value, error) {
	p := rule.Produce
	if p.Mul != nil {
		mul := MulPred{
			Left:       FactRefPred{FactID: p.Mul.FactID},
			Literal:    p.Mul.Literal,
			ResultType: p.Mul.ResultType,
		}
		return evalPred(mul, facts, verdicts, collector, ctx)
	}
	if p.Literal != nil {
		return *p.Literal, nil
	}
	return Value{}, errDeserialize("rule '%s' payload has no value", rule.ID)
}
