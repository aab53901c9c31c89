package parser

import (
	"tenor/internal/ast"
	"tenor/internal/diag"
	"tenor/internal/lexer"
)

func (p *parser) parseFlow(line int) (ast.Construct, *diag.Diagnostic) {
	p.advance()
	id, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	if derr := p.expectLBrace(); derr != nil {
		return nil, derr
	}
	flow := &ast.Flow{ID: id, EntryLine: line, Provenance: p.prov(line)}
	for p.peek().Kind != lexer.RBrace {
		fieldLine := p.curLine()
		key, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if derr := p.expectColon(); derr != nil {
			return nil, derr
		}
		switch key {
		case "snapshot":
			if flow.Snapshot, err = p.takeWord(); err != nil {
				return nil, err
			}
		case "entry":
			flow.EntryLine = fieldLine
			if flow.Entry, err = p.takeWord(); err != nil {
				return nil, err
			}
		case "steps":
			if flow.Steps, err = p.parseSteps(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errf("unknown Flow field '%s'", key)
		}
	}
	if err := p.expectRBrace(); err != nil {
		return nil, err
	}
	return flow, nil
}

func (p *parser) parseSteps() (map[string]ast.Step, *diag.Diagnostic) {
	steps := make(map[string]ast.Step)
	if err := p.expectLBrace(); err != nil {
		return nil, err
	}
	for p.peek().Kind != lexer.RBrace {
		stepLine := p.curLine()
		stepID, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if derr := p.expectColon(); derr != nil {
			return nil, derr
		}
		kind, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		step, derr := p.parseStepBody(kind, stepLine)
		if derr != nil {
			return nil, derr
		}
		steps[stepID] = step
	}
	if err := p.expectRBrace(); err != nil {
		return nil, err
	}
	return steps, nil
}

func (p *parser) parseStepBody(kind string, stepLine int) (ast.Step, *diag.Diagnostic) {
	if err := p.expectLBrace(); err != nil {
		return nil, err
	}
	var step ast.Step
	switch kind {
	case "OperationStep":
		s := &ast.OperationStep{Line: stepLine}
		for p.peek().Kind != lexer.RBrace {
			key, err := p.takeWord()
			if err != nil {
				return nil, err
			}
			if derr := p.expectColon(); derr != nil {
				return nil, derr
			}
			switch key {
			case "op":
				if s.Op, err = p.takeWord(); err != nil {
					return nil, err
				}
			case "persona":
				if s.Persona, err = p.takeWord(); err != nil {
					return nil, err
				}
			case "outcomes":
				if s.Outcomes, err = p.parseOutcomes(); err != nil {
					return nil, err
				}
			case "on_failure":
				if s.OnFailure, err = p.parseFailureHandler(); err != nil {
					return nil, err
				}
			default:
				return nil, p.errf("unknown OperationStep field '%s'", key)
			}
		}
		step = s
	case "BranchStep":
		s := &ast.BranchStep{Line: stepLine}
		var ifTrue, ifFalse *ast.StepTarget
		for p.peek().Kind != lexer.RBrace {
			key, err := p.takeWord()
			if err != nil {
				return nil, err
			}
			if derr := p.expectColon(); derr != nil {
				return nil, derr
			}
			switch key {
			case "condition":
				if s.Condition, err = p.parseExpr(); err != nil {
					return nil, err
				}
			case "persona":
				if s.Persona, err = p.takeWord(); err != nil {
					return nil, err
				}
			case "if_true":
				if ifTrue, err = p.parseStepTargetPtr(); err != nil {
					return nil, err
				}
			case "if_false":
				if ifFalse, err = p.parseStepTargetPtr(); err != nil {
					return nil, err
				}
			default:
				return nil, p.errf("unknown BranchStep field '%s'", key)
			}
		}
		if s.Condition == nil {
			return nil, p.errf("BranchStep missing condition")
		}
		if ifTrue == nil {
			return nil, p.errf("BranchStep missing if_true")
		}
		if ifFalse == nil {
			return nil, p.errf("BranchStep missing if_false")
		}
		s.IfTrue = *ifTrue
		s.IfFalse = *ifFalse
		step = s
	case "HandoffStep":
		s := &ast.HandoffStep{Line: stepLine}
		for p.peek().Kind != lexer.RBrace {
			key, err := p.takeWord()
			if err != nil {
				return nil, err
			}
			if derr := p.expectColon(); derr != nil {
				return nil, derr
			}
			switch key {
			case "from_persona":
				if s.FromPersona, err = p.takeWord(); err != nil {
					return nil, err
				}
			case "to_persona":
				if s.ToPersona, err = p.takeWord(); err != nil {
					return nil, err
				}
			case "next":
				if s.Next, err = p.takeWord(); err != nil {
					return nil, err
				}
			default:
				return nil, p.errf("unknown HandoffStep field '%s'", key)
			}
		}
		step = s
	case "SubFlowStep":
		s := &ast.SubFlowStep{FlowLine: stepLine, Line: stepLine}
		var onSuccess *ast.StepTarget
		for p.peek().Kind != lexer.RBrace {
			fieldLine := p.curLine()
			key, err := p.takeWord()
			if err != nil {
				return nil, err
			}
			if derr := p.expectColon(); derr != nil {
				return nil, derr
			}
			switch key {
			case "flow":
				s.FlowLine = fieldLine
				if s.Flow, err = p.takeWord(); err != nil {
					return nil, err
				}
			case "persona":
				if s.Persona, err = p.takeWord(); err != nil {
					return nil, err
				}
			case "on_success":
				if onSuccess, err = p.parseStepTargetPtr(); err != nil {
					return nil, err
				}
			case "on_failure":
				if s.OnFailure, err = p.parseFailureHandler(); err != nil {
					return nil, err
				}
			default:
				return nil, p.errf("unknown SubFlowStep field '%s'", key)
			}
		}
		if onSuccess == nil {
			return nil, p.errf("SubFlowStep missing on_success")
		}
		if s.OnFailure == nil {
			return nil, p.errf("SubFlowStep missing on_failure")
		}
		s.OnSuccess = *onSuccess
		step = s
	case "ParallelStep":
		s := &ast.ParallelStep{BranchesLine: stepLine, Line: stepLine}
		var join *ast.JoinPolicy
		for p.peek().Kind != lexer.RBrace {
			fieldLine := p.curLine()
			key, err := p.takeWord()
			if err != nil {
				return nil, err
			}
			if derr := p.expectColon(); derr != nil {
				return nil, derr
			}
			switch key {
			case "branches":
				s.BranchesLine = fieldLine
				if s.Branches, err = p.parseBranches(); err != nil {
					return nil, err
				}
			case "join":
				if join, err = p.parseJoinPolicy(); err != nil {
					return nil, err
				}
			default:
				return nil, p.errf("unknown ParallelStep field '%s'", key)
			}
		}
		if join == nil {
			return nil, p.errf("ParallelStep missing join")
		}
		s.Join = *join
		step = s
	default:
		return nil, p.errf("unknown step kind '%s'", kind)
	}
	if err := p.expectRBrace(); err != nil {
		return nil, err
	}
	return step, nil
}

func (p *parser) parseOutcomes() (map[string]ast.StepTarget, *diag.Diagnostic) {
	outcomes := make(map[string]ast.StepTarget)
	if err := p.expectLBrace(); err != nil {
		return nil, err
	}
	for p.peek().Kind != lexer.RBrace {
		label, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if derr := p.expectColon(); derr != nil {
			return nil, derr
		}
		target, derr := p.parseStepTarget()
		if derr != nil {
			return nil, derr
		}
		outcomes[label] = target
	}
	if err := p.expectRBrace(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (p *parser) parseStepTarget() (ast.StepTarget, *diag.Diagnostic) {
	if p.isWord("Terminal") {
		p.advance()
		if err := p.expectLParen(); err != nil {
			return ast.StepTarget{}, err
		}
		outcome, err := p.takeWord()
		if err != nil {
			return ast.StepTarget{}, err
		}
		if derr := p.expectRParen(); derr != nil {
			return ast.StepTarget{}, derr
		}
		return ast.StepTarget{Outcome: outcome}, nil
	}
	line := p.curLine()
	name, err := p.takeWord()
	if err != nil {
		return ast.StepTarget{}, err
	}
	return ast.StepTarget{Step: name, Line: line}, nil
}

func (p *parser) parseStepTargetPtr() (*ast.StepTarget, *diag.Diagnostic) {
	t, err := p.parseStepTarget()
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *parser) parseFailureHandler() (*ast.FailureHandler, *diag.Diagnostic) {
	kind, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	switch kind {
	case "Terminate":
		if derr := p.expectLParen(); derr != nil {
			return nil, derr
		}
		if p.isWord("outcome") {
			p.advance()
			if derr := p.expectColon(); derr != nil {
				return nil, derr
			}
		}
		outcome, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if derr := p.expectRParen(); derr != nil {
			return nil, derr
		}
		return &ast.FailureHandler{Kind: ast.HandlerTerminate, Outcome: outcome}, nil
	case "Compensate":
		if derr := p.expectLParen(); derr != nil {
			return nil, derr
		}
		h := &ast.FailureHandler{Kind: ast.HandlerCompensate}
		for p.peek().Kind != lexer.RParen {
			key, err := p.takeWord()
			if err != nil {
				return nil, err
			}
			if derr := p.expectColon(); derr != nil {
				return nil, derr
			}
			switch key {
			case "steps":
				if h.Steps, err = p.parseCompSteps(); err != nil {
					return nil, err
				}
			case "then":
				if h.Then, err = p.parseTerminalOutcome(); err != nil {
					return nil, err
				}
			default:
				return nil, p.errf("unknown Compensate field '%s'", key)
			}
			if p.peek().Kind == lexer.Comma {
				p.advance()
			}
		}
		if err := p.expectRParen(); err != nil {
			return nil, err
		}
		return h, nil
	case "Escalate":
		if derr := p.expectLParen(); derr != nil {
			return nil, derr
		}
		h := &ast.FailureHandler{Kind: ast.HandlerEscalate}
		for p.peek().Kind != lexer.RParen {
			key, err := p.takeWord()
			if err != nil {
				return nil, err
			}
			if derr := p.expectColon(); derr != nil {
				return nil, derr
			}
			switch key {
			case "to", "to_persona":
				if h.ToPersona, err = p.takeWord(); err != nil {
					return nil, err
				}
			case "next":
				if h.Next, err = p.takeWord(); err != nil {
					return nil, err
				}
			default:
				return nil, p.errf("unknown Escalate field '%s'", key)
			}
			if p.peek().Kind == lexer.Comma {
				p.advance()
			}
		}
		if err := p.expectRParen(); err != nil {
			return nil, err
		}
		return h, nil
	}
	return nil, p.errf("unknown failure handler kind '%s'", kind)
}

// parseTerminalOutcome parses `Terminal(outcome)` and yields the outcome.
func (p *parser) parseTerminalOutcome() (string, *diag.Diagnostic) {
	if _, err := p.expectWord("Terminal"); err != nil {
		return "", err
	}
	if err := p.expectLParen(); err != nil {
		return "", err
	}
	outcome, err := p.takeWord()
	if err != nil {
		return "", err
	}
	if derr := p.expectRParen(); derr != nil {
		return "", derr
	}
	return outcome, nil
}

func (p *parser) parseBranches() ([]ast.Branch, *diag.Diagnostic) {
	if err := p.expectLBracket(); err != nil {
		return nil, err
	}
	var branches []ast.Branch
	for p.peek().Kind != lexer.RBracket {
		b, err := p.parseBranch()
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
	}
	if err := p.expectRBracket(); err != nil {
		return nil, err
	}
	return branches, nil
}

func (p *parser) parseBranch() (ast.Branch, *diag.Diagnostic) {
	if _, err := p.expectWord("Branch"); err != nil {
		return ast.Branch{}, err
	}
	if err := p.expectLBrace(); err != nil {
		return ast.Branch{}, err
	}
	var b ast.Branch
	for p.peek().Kind != lexer.RBrace {
		key, err := p.takeWord()
		if err != nil {
			return ast.Branch{}, err
		}
		if derr := p.expectColon(); derr != nil {
			return ast.Branch{}, derr
		}
		switch key {
		case "id":
			if b.ID, err = p.takeWord(); err != nil {
				return ast.Branch{}, err
			}
		case "entry":
			if b.Entry, err = p.takeWord(); err != nil {
				return ast.Branch{}, err
			}
		case "steps":
			if b.Steps, err = p.parseSteps(); err != nil {
				return ast.Branch{}, err
			}
		default:
			return ast.Branch{}, p.errf("unknown Branch field '%s'", key)
		}
	}
	if err := p.expectRBrace(); err != nil {
		return ast.Branch{}, err
	}
	return b, nil
}

func (p *parser) parseJoinPolicy() (*ast.JoinPolicy, *diag.Diagnostic) {
	if _, err := p.expectWord("JoinPolicy"); err != nil {
		return nil, err
	}
	if err := p.expectLBrace(); err != nil {
		return nil, err
	}
	jp := &ast.JoinPolicy{}
	for p.peek().Kind != lexer.RBrace {
		key, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if derr := p.expectColon(); derr != nil {
			return nil, derr
		}
		switch key {
		case "on_all_success":
			if jp.OnAllSuccess, err = p.parseStepTargetPtr(); err != nil {
				return nil, err
			}
		case "on_any_failure":
			if jp.OnAnyFailure, err = p.parseFailureHandler(); err != nil {
				return nil, err
			}
		case "on_all_complete":
			if p.isWord("null") {
				p.advance()
				break
			}
			if jp.OnAllComplete, err = p.parseStepTargetPtr(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errf("unknown JoinPolicy field '%s'", key)
		}
	}
	if err := p.expectRBrace(); err != nil {
		return nil, err
	}
	return jp, nil
}

func (p *parser) parseCompSteps() ([]ast.CompStep, *diag.Diagnostic) {
	if err := p.expectLBracket(); err != nil {
		return nil, err
	}
	var steps []ast.CompStep
	for p.peek().Kind != lexer.RBracket {
		if err := p.expectLBrace(); err != nil {
			return nil, err
		}
		var cs ast.CompStep
		for p.peek().Kind != lexer.RBrace {
			key, err := p.takeWord()
			if err != nil {
				return nil, err
			}
			if derr := p.expectColon(); derr != nil {
				return nil, derr
			}
			switch key {
			case "op":
				if cs.Op, err = p.takeWord(); err != nil {
					return nil, err
				}
			case "persona":
				if cs.Persona, err = p.takeWord(); err != nil {
					return nil, err
				}
			case "on_failure":
				if cs.OnFailure, err = p.parseTerminalOutcome(); err != nil {
					return nil, err
				}
			default:
				return nil, p.errf("unknown comp step field '%s'", key)
			}
			if p.peek().Kind == lexer.Comma {
				p.advance()
			}
		}
		if err := p.expectRBrace(); err != nil {
			return nil, err
		}
		steps = append(steps, cs)
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
	}
	if err := p.expectRBracket(); err != nil {
		return nil, err
	}
	return steps, nil
}
