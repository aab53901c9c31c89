package parser

import (
	"tenor/internal/ast"
	"tenor/internal/diag"
	"tenor/internal/lexer"
)

func (p *parser) parseSystem(line int) (ast.Construct, *diag.Diagnostic) {
	p.advance()
	id, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	if derr := p.expectLBrace(); derr != nil {
		return nil, derr
	}
	sys := &ast.System{ID: id, Provenance: p.prov(line)}
	for p.peek().Kind != lexer.RBrace {
		key, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if derr := p.expectColon(); derr != nil {
			return nil, derr
		}
		switch key {
		case "members":
			if sys.Members, err = p.parseSystemMembers(); err != nil {
				return nil, err
			}
		case "shared_personas":
			if sys.SharedPersonas, err = p.parseSharedBindings("persona"); err != nil {
				return nil, err
			}
		case "shared_entities":
			if sys.SharedEntities, err = p.parseSharedBindings("entity"); err != nil {
				return nil, err
			}
		case "triggers":
			if sys.Triggers, err = p.parseSystemTriggers(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errf("unknown System field '%s'", key)
		}
	}
	if err := p.expectRBrace(); err != nil {
		return nil, err
	}
	return sys, nil
}

// parseSystemMembers parses `members: [ member_id: "path", ... ]`.
func (p *parser) parseSystemMembers() ([]ast.SystemMember, *diag.Diagnostic) {
	if err := p.expectLBracket(); err != nil {
		return nil, err
	}
	var members []ast.SystemMember
	for p.peek().Kind != lexer.RBracket {
		id, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if derr := p.expectColon(); derr != nil {
			return nil, derr
		}
		path, err := p.takeStr()
		if err != nil {
			return nil, err
		}
		members = append(members, ast.SystemMember{ID: id, Path: path})
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
	}
	if err := p.expectRBracket(); err != nil {
		return nil, err
	}
	return members, nil
}

// parseSharedBindings parses `[ { <idKey>: id, contracts: [a, b] }, ... ]`
// where idKey is "persona" or "entity".
func (p *parser) parseSharedBindings(idKey string) ([]ast.SharedBinding, *diag.Diagnostic) {
	if err := p.expectLBracket(); err != nil {
		return nil, err
	}
	var entries []ast.SharedBinding
	for p.peek().Kind != lexer.RBracket {
		if err := p.expectLBrace(); err != nil {
			return nil, err
		}
		var entry ast.SharedBinding
		for p.peek().Kind != lexer.RBrace {
			field, err := p.takeWord()
			if err != nil {
				return nil, err
			}
			if derr := p.expectColon(); derr != nil {
				return nil, derr
			}
			switch field {
			case idKey:
				if entry.ID, err = p.takeWord(); err != nil {
					return nil, err
				}
			case "contracts":
				if entry.Contracts, err = p.parseIdentArray(); err != nil {
					return nil, err
				}
			default:
				return nil, p.errf("unknown shared_%ss field '%s'", idKey, field)
			}
			if p.peek().Kind == lexer.Comma {
				p.advance()
			}
		}
		if err := p.expectRBrace(); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
	}
	if err := p.expectRBracket(); err != nil {
		return nil, err
	}
	return entries, nil
}

// parseSystemTriggers parses
// `triggers: [ { source: a.flow, on: success, target: b.flow, persona: p }, ... ]`.
func (p *parser) parseSystemTriggers() ([]ast.Trigger, *diag.Diagnostic) {
	if err := p.expectLBracket(); err != nil {
		return nil, err
	}
	var triggers []ast.Trigger
	for p.peek().Kind != lexer.RBracket {
		if err := p.expectLBrace(); err != nil {
			return nil, err
		}
		var tr ast.Trigger
		for p.peek().Kind != lexer.RBrace {
			field, err := p.takeWord()
			if err != nil {
				return nil, err
			}
			if derr := p.expectColon(); derr != nil {
				return nil, derr
			}
			switch field {
			case "source":
				if tr.SourceContract, tr.SourceFlow, err = p.parseDottedPair("source"); err != nil {
					return nil, err
				}
			case "target":
				if tr.TargetContract, tr.TargetFlow, err = p.parseDottedPair("target"); err != nil {
					return nil, err
				}
			case "on":
				if tr.On, err = p.takeWord(); err != nil {
					return nil, err
				}
			case "persona":
				if tr.Persona, err = p.takeWord(); err != nil {
					return nil, err
				}
			default:
				return nil, p.errf("unknown trigger field '%s'", field)
			}
			if p.peek().Kind == lexer.Comma {
				p.advance()
			}
		}
		if err := p.expectRBrace(); err != nil {
			return nil, err
		}
		triggers = append(triggers, tr)
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
	}
	if err := p.expectRBracket(); err != nil {
		return nil, err
	}
	return triggers, nil
}

func (p *parser) parseDottedPair(what string) (string, string, *diag.Diagnostic) {
	contract, err := p.takeWord()
	if err != nil {
		return "", "", err
	}
	if p.peek().Kind != lexer.Dot {
		return "", "", p.errf("expected '.' after %s contract in trigger", what)
	}
	p.advance()
	flow, err := p.takeWord()
	if err != nil {
		return "", "", err
	}
	return contract, flow, nil
}
