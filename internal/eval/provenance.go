package eval

// VerdictProvenance records what a rule consumed to fire.
type VerdictProvenance struct {
	Rule         string   `json:"rule"`
	Stratum      int64    `json:"stratum"`
	FactsUsed    []string `json:"facts_used"`
	VerdictsUsed []string `json:"verdicts_used"`
}

// provenanceCollector accumulates the facts and verdicts touched while
// evaluating a single rule condition. Each id is recorded once, in
// first-touch order.
type provenanceCollector struct {
	facts    []string
	verdicts []string
}

func newProvenanceCollector() *provenanceCollector {
	return &provenanceCollector{}
}

func (c *provenanceCollector) recordFact(id string) {
	for _, f := range c.facts {
		if f == id {
			return
		}
	}
	c.facts = append(c.facts, id)
}

func (c *provenanceCollector) recordVerdict(id string) {
	for _, v := range c.verdicts {
		if v == id {
			return
		}
	}
	c.verdicts = append(c.verdicts, id)
}

func (c *provenanceCollector) intoProvenance(ruleID string, stratum int64) VerdictProvenance {
	facts := c.facts
	if facts == nil {
		facts = []string{}
	}
	verdicts := c.verdicts
	if verdicts == nil {
		verdicts = []string{}
	}
	return VerdictProvenance{
		Rule:         ruleID,
		Stratum:      stratum,
		FactsUsed:    facts,
		VerdictsUsed: verdicts,
	}
}
