package parser

import (
	"tenor/internal/ast"
	"tenor/internal/diag"
	"tenor/internal/lexer"
)

func (p *parser) parseTypeDecl(line int) (ast.Construct, *diag.Diagnostic) {
	p.advance()
	id, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	fields, err := p.parseRecordFields()
	if err != nil {
		return nil, err
	}
	return &ast.TypeDecl{ID: id, Fields: fields, Provenance: p.prov(line)}, nil
}

func (p *parser) parseFact(line int) (ast.Construct, *diag.Diagnostic) {
	p.advance()
	id, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	if derr := p.expectLBrace(); derr != nil {
		return nil, derr
	}
	var typ *ast.Type
	var source *ast.SourceRef
	var def *ast.Literal
	for p.peek().Kind != lexer.RBrace {
		key, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if derr := p.expectColon(); derr != nil {
			return nil, derr
		}
		switch key {
		case "type":
			if typ, err = p.parseType(); err != nil {
				return nil, err
			}
		case "source":
			if source, err = p.parseFactSource(); err != nil {
				return nil, err
			}
		case "default":
			lit, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			def = &lit
		default:
			return nil, p.errf("unknown Fact field '%s'", key)
		}
	}
	if err := p.expectRBrace(); err != nil {
		return nil, err
	}
	if typ == nil {
		return nil, p.errf("Fact missing 'type'")
	}
	if source == nil {
		return nil, p.errf("Fact missing 'source'")
	}
	return &ast.Fact{ID: id, Type: typ, Source: source, Default: def, Provenance: p.prov(line)}, nil
}

// parseFactSource accepts the free-form `source: "some.string"` and the
// structured `source: source_id { path: "..." }` forms.
func (p *parser) parseFactSource() (*ast.SourceRef, *diag.Diagnostic) {
	if p.peek().Kind == lexer.Str {
		s, err := p.takeStr()
		if err != nil {
			return nil, err
		}
		return &ast.SourceRef{Freetext: s}, nil
	}
	sourceID, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	if derr := p.expectLBrace(); derr != nil {
		return nil, derr
	}
	if _, derr := p.expectWord("path"); derr != nil {
		return nil, derr
	}
	if derr := p.expectColon(); derr != nil {
		return nil, derr
	}
	path, err := p.takeStr()
	if err != nil {
		return nil, err
	}
	if derr := p.expectRBrace(); derr != nil {
		return nil, derr
	}
	return &ast.SourceRef{SourceID: sourceID, Path: path}, nil
}

func (p *parser) parseSource(line int) (ast.Construct, *diag.Diagnostic) {
	p.advance()
	id, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	if derr := p.expectLBrace(); derr != nil {
		return nil, derr
	}
	src := &ast.Source{ID: id, Fields: make(map[string]string), Provenance: p.prov(line)}
	for p.peek().Kind != lexer.RBrace {
		key, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if derr := p.expectColon(); derr != nil {
			return nil, derr
		}
		switch key {
		case "protocol":
			if src.Protocol, err = p.parseProtocolTag(); err != nil {
				return nil, err
			}
		case "description":
			if src.Description, err = p.takeStr(); err != nil {
				return nil, err
			}
		default:
			// Other fields are connection metadata, string or bare word.
			var val string
			if p.peek().Kind == lexer.Str {
				val, err = p.takeStr()
			} else {
				val, err = p.takeWord()
			}
			if err != nil {
				return nil, err
			}
			src.Fields[key] = val
		}
	}
	if err := p.expectRBrace(); err != nil {
		return nil, err
	}
	if src.Protocol == "" {
		return nil, p.errf("Source missing 'protocol'")
	}
	return src, nil
}

// parseProtocolTag accepts dotted extension tags like x_internal.event_bus.
func (p *parser) parseProtocolTag() (string, *diag.Diagnostic) {
	tag, err := p.takeWord()
	if err != nil {
		return "", err
	}
	for p.peek().Kind == lexer.Dot {
		p.advance()
		segment, err := p.takeWord()
		if err != nil {
			return "", err
		}
		tag += "." + segment
	}
	return tag, nil
}

func (p *parser) parseEntity(line int) (ast.Construct, *diag.Diagnostic) {
	p.advance()
	id, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	if derr := p.expectLBrace(); derr != nil {
		return nil, derr
	}
	ent := &ast.Entity{ID: id, InitialLine: line, Provenance: p.prov(line)}
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
		case "states":
			if ent.States, err = p.parseIdentArray(); err != nil {
				return nil, err
			}
		case "initial":
			ent.InitialLine = fieldLine
			if ent.Initial, err = p.takeWord(); err != nil {
				return nil, err
			}
		case "transitions":
			if ent.Transitions, err = p.parseTransitions(); err != nil {
				return nil, err
			}
		case "parent":
			ent.ParentLine = fieldLine
			if ent.Parent, err = p.takeWord(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errf("unknown Entity field '%s'", key)
		}
	}
	if err := p.expectRBrace(); err != nil {
		return nil, err
	}
	return ent, nil
}

func (p *parser) parseTransitions() ([]ast.Transition, *diag.Diagnostic) {
	if err := p.expectLBracket(); err != nil {
		return nil, err
	}
	var transitions []ast.Transition
	for p.peek().Kind != lexer.RBracket {
		tLine := p.curLine()
		if err := p.expectLParen(); err != nil {
			return nil, err
		}
		from, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if derr := p.expectTransitionSep(); derr != nil {
			return nil, derr
		}
		to, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if derr := p.expectRParen(); derr != nil {
			return nil, derr
		}
		transitions = append(transitions, ast.Transition{From: from, To: to, Line: tLine})
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
	}
	if err := p.expectRBracket(); err != nil {
		return nil, err
	}
	return transitions, nil
}

func (p *parser) expectTransitionSep() *diag.Diagnostic {
	switch p.peek().Kind {
	case lexer.Comma, lexer.Arrow, lexer.Gt:
		p.advance()
		return nil
	}
	return p.errf("expected ',' or '→' in transition, got %s", describe(p.peek()))
}

func (p *parser) parseRule(line int) (ast.Construct, *diag.Diagnostic) {
	p.advance()
	id, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	if derr := p.expectLBrace(); derr != nil {
		return nil, derr
	}
	rule := &ast.Rule{
		ID:           id,
		StratumLine:  line,
		ProduceLine:  line,
		PayloadType:  &ast.Type{Kind: ast.KindBool},
		PayloadValue: &ast.Lit{Value: ast.Literal{Kind: ast.LitBool, Bool: true}},
		Provenance:   p.prov(line),
	}
	haveStratum := false
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
		case "stratum":
			rule.StratumLine = fieldLine
			if rule.Stratum, err = p.takeInt(); err != nil {
				return nil, err
			}
			haveStratum = true
		case "when":
			if rule.When, err = p.parseExpr(); err != nil {
				return nil, err
			}
		case "produce":
			rule.ProduceLine = fieldLine
			if err := p.parseProduce(rule); err != nil {
				return nil, err
			}
		default:
			return nil, p.errf("unknown Rule field '%s'", key)
		}
	}
	if err := p.expectRBrace(); err != nil {
		return nil, err
	}
	if !haveStratum {
		return nil, p.errf("Rule missing 'stratum'")
	}
	if rule.When == nil {
		return nil, p.errf("Rule missing 'when'")
	}
	return rule, nil
}

func (p *parser) parseProduce(rule *ast.Rule) *diag.Diagnostic {
	if _, err := p.expectWord("verdict"); err != nil {
		return err
	}
	vt, err := p.takeWord()
	if err != nil {
		return err
	}
	rule.VerdictType = vt
	if derr := p.expectLBrace(); derr != nil {
		return derr
	}
	if _, derr := p.expectWord("payload"); derr != nil {
		return derr
	}
	if derr := p.expectColon(); derr != nil {
		return derr
	}
	if rule.PayloadType, err = p.parseType(); err != nil {
		return err
	}
	if derr := p.expectEq(); derr != nil {
		return derr
	}
	if rule.PayloadValue, err = p.parseTerm(); err != nil {
		return err
	}
	return p.expectRBrace()
}

func (p *parser) parseOperation(line int) (ast.Construct, *diag.Diagnostic) {
	p.advance()
	id, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	if derr := p.expectLBrace(); derr != nil {
		return nil, derr
	}
	op := &ast.Operation{ID: id, AllowedPersonasLine: line, Provenance: p.prov(line)}
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
		case "allowed_personas":
			op.AllowedPersonasLine = fieldLine
			if op.AllowedPersonas, err = p.parseIdentArray(); err != nil {
				return nil, err
			}
		case "precondition":
			if op.Precondition, err = p.parseExpr(); err != nil {
				return nil, err
			}
		case "effects":
			if op.Effects, err = p.parseEffects(); err != nil {
				return nil, err
			}
		case "error_contract":
			if op.ErrorContract, err = p.parseIdentArray(); err != nil {
				return nil, err
			}
		case "outcomes":
			if op.Outcomes, err = p.parseIdentArray(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errf("unknown Operation field '%s'", key)
		}
	}
	if err := p.expectRBrace(); err != nil {
		return nil, err
	}
	if op.Precondition == nil {
		return nil, p.errf("Operation missing 'precondition'")
	}
	return op, nil
}

func (p *parser) parseEffects() ([]ast.Effect, *diag.Diagnostic) {
	if err := p.expectLBracket(); err != nil {
		return nil, err
	}
	var effects []ast.Effect
	for p.peek().Kind != lexer.RBracket {
		eLine := p.curLine()
		if err := p.expectLParen(); err != nil {
			return nil, err
		}
		entity, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if derr := p.expectComma(); derr != nil {
			return nil, derr
		}
		from, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if derr := p.expectComma(); derr != nil {
			return nil, derr
		}
		to, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		// Optional outcome label after a fourth comma; a trailing comma
		// before ')' is tolerated.
		outcome := ""
		if p.peek().Kind == lexer.Comma {
			p.advance()
			if p.peek().Kind == lexer.Word {
				if outcome, err = p.takeWord(); err != nil {
					return nil, err
				}
			}
		}
		if derr := p.expectRParen(); derr != nil {
			return nil, derr
		}
		effects = append(effects, ast.Effect{Entity: entity, From: from, To: to, Outcome: outcome, Line: eLine})
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
	}
	if err := p.expectRBracket(); err != nil {
		return nil, err
	}
	return effects, nil
}
