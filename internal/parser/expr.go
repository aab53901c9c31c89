package parser

import (
	"tenor/internal/ast"
	"tenor/internal/diag"
	"tenor/internal/lexer"
)

// Operator precedence, loosest first: ∨, ∧, ¬, atoms. The word forms
// "and"/"not" are accepted alongside the Unicode glyphs.

func (p *parser) parseExpr() (ast.Expr, *diag.Diagnostic) {
	return p.parseOrExpr()
}

func (p *parser) parseOrExpr() (ast.Expr, *diag.Diagnostic) {
	left, err := p.parseAndExpr()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == lexer.Or {
		p.advance()
		right, err := p.parseAndExpr()
		if err != nil {
			return nil, err
		}
		left = &ast.Or{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAndExpr() (ast.Expr, *diag.Diagnostic) {
	left, err := p.parseUnaryExpr()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == lexer.And || p.isWord("and") {
		p.advance()
		right, err := p.parseUnaryExpr()
		if err != nil {
			return nil, err
		}
		left = &ast.And{Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnaryExpr() (ast.Expr, *diag.Diagnostic) {
	if p.peek().Kind == lexer.Not || p.isWord("not") {
		p.advance()
		e, err := p.parseAtomExpr()
		if err != nil {
			return nil, err
		}
		return &ast.Not{Operand: e}, nil
	}
	return p.parseAtomExpr()
}

func (p *parser) parseAtomExpr() (ast.Expr, *diag.Diagnostic) {
	switch {
	case p.peek().Kind == lexer.Forall:
		return p.parseQuantifier(true)
	case p.peek().Kind == lexer.Exists:
		return p.parseQuantifier(false)
	case p.isWord("verdict_present"):
		line := p.curLine()
		p.advance()
		if err := p.expectLParen(); err != nil {
			return nil, err
		}
		id, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if err := p.expectRParen(); err != nil {
			return nil, err
		}
		return &ast.VerdictPresent{ID: id, Line: line}, nil
	case p.peek().Kind == lexer.LParen:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectRParen(); err != nil {
			return nil, err
		}
		return e, nil
	}

	line := p.curLine()
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	op, derr := p.parseCompareOp()
	if derr != nil {
		return nil, derr
	}
	right, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	return &ast.Compare{Op: op, Left: left, Right: right, Line: line}, nil
}

func (p *parser) parseQuantifier(forall bool) (ast.Expr, *diag.Diagnostic) {
	line := p.curLine()
	p.advance()
	variable, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	if p.peek().Kind != lexer.In {
		return nil, p.errf("expected ∈ after quantifier variable")
	}
	p.advance()
	domain, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	if p.peek().Kind != lexer.Dot {
		return nil, p.errf("expected '.' after quantifier domain")
	}
	p.advance()
	body, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if forall {
		return &ast.Forall{Var: variable, Domain: domain, Body: body, Line: line}, nil
	}
	return &ast.Exists{Var: variable, Domain: domain, Body: body, Line: line}, nil
}

func (p *parser) parseCompareOp() (string, *diag.Diagnostic) {
	var op string
	switch p.peek().Kind {
	case lexer.Eq:
		op = "="
	case lexer.Neq:
		op = "!="
	case lexer.Lt:
		op = "<"
	case lexer.Lte:
		op = "<="
	case lexer.Gt:
		op = ">"
	case lexer.Gte:
		op = ">="
	default:
		return "", p.errf("expected comparison operator, got %s", describe(p.peek()))
	}
	p.advance()
	return op, nil
}

func (p *parser) parseLiteral() (ast.Literal, *diag.Diagnostic) {
	t := p.peek()
	switch {
	case t.Kind == lexer.Word && t.Text == "true":
		p.advance()
		return ast.Literal{Kind: ast.LitBool, Bool: true}, nil
	case t.Kind == lexer.Word && t.Text == "false":
		p.advance()
		return ast.Literal{Kind: ast.LitBool}, nil
	case t.Kind == lexer.Int:
		p.advance()
		return ast.Literal{Kind: ast.LitInt, Int: t.Num}, nil
	case t.Kind == lexer.Float:
		p.advance()
		return ast.Literal{Kind: ast.LitDecimal, Text: t.Text}, nil
	case t.Kind == lexer.Str:
		p.advance()
		return ast.Literal{Kind: ast.LitString, Text: t.Text}, nil
	case t.Kind == lexer.Word && t.Text == "Money":
		return p.parseMoneyLiteral()
	}
	return ast.Literal{}, p.errf("expected literal value, got %s", describe(t))
}

func (p *parser) parseMoneyLiteral() (ast.Literal, *diag.Diagnostic) {
	p.advance()
	if err := p.expectLBrace(); err != nil {
		return ast.Literal{}, err
	}
	lit := ast.Literal{Kind: ast.LitMoney}
	for p.peek().Kind != lexer.RBrace {
		key, err := p.takeWord()
		if err != nil {
			return ast.Literal{}, err
		}
		if derr := p.expectColon(); derr != nil {
			return ast.Literal{}, derr
		}
		switch key {
		case "amount":
			if lit.Amount, err = p.takeStr(); err != nil {
				return ast.Literal{}, err
			}
		case "currency":
			if lit.Currency, err = p.takeStr(); err != nil {
				return ast.Literal{}, err
			}
		default:
			return ast.Literal{}, p.errf("unknown Money key '%s'", key)
		}
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
	}
	if err := p.expectRBrace(); err != nil {
		return ast.Literal{}, err
	}
	return lit, nil
}

func (p *parser) parseBaseTerm() (ast.Term, *diag.Diagnostic) {
	t := p.peek()
	switch {
	case t.Kind == lexer.Word && (t.Text == "true" || t.Text == "false" || t.Text == "Money"):
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &ast.Lit{Value: lit}, nil
	case t.Kind == lexer.Int, t.Kind == lexer.Float, t.Kind == lexer.Str:
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &ast.Lit{Value: lit}, nil
	case t.Kind == lexer.Word:
		name := t.Text
		p.advance()
		if p.peek().Kind == lexer.Dot {
			p.advance()
			field, err := p.takeWord()
			if err != nil {
				return nil, err
			}
			return &ast.FieldRef{Var: name, Field: field}, nil
		}
		return &ast.FactRef{ID: name}, nil
	}
	return nil, p.errf("expected term, got %s", describe(t))
}

func (p *parser) parseTerm() (ast.Term, *diag.Diagnostic) {
	left, err := p.parseBaseTerm()
	if err != nil {
		return nil, err
	}
	if p.peek().Kind == lexer.Star {
		p.advance()
		right, err := p.parseBaseTerm()
		if err != nil {
			return nil, err
		}
		return &ast.Mul{Left: left, Right: right}, nil
	}
	return left, nil
}
