package parser

import (
	"math"

	"tenor/internal/ast"
	"tenor/internal/diag"
	"tenor/internal/lexer"
)

// parseType parses a type expression. Type parameters accept both named
// (min: 0, max: 10) and positional (0, 10) forms where the grammar allows.
func (p *parser) parseType() (*ast.Type, *diag.Diagnostic) {
	name, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	switch name {
	case "Bool":
		return &ast.Type{Kind: ast.KindBool}, nil
	case "Date":
		return &ast.Type{Kind: ast.KindDate}, nil
	case "DateTime":
		return &ast.Type{Kind: ast.KindDateTime}, nil
	case "Int":
		if p.peek().Kind != lexer.LParen {
			return &ast.Type{Kind: ast.KindInt, Min: math.MinInt64, Max: math.MaxInt64}, nil
		}
		p.advance()
		min, max, err := p.parseIntParams()
		if err != nil {
			return nil, err
		}
		if err := p.expectRParen(); err != nil {
			return nil, err
		}
		return &ast.Type{Kind: ast.KindInt, Min: min, Max: max}, nil
	case "Decimal":
		if err := p.expectLParen(); err != nil {
			return nil, err
		}
		precision, err := p.parseNamedOrPositionalInt("precision")
		if err != nil {
			return nil, err
		}
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
		scale, err := p.parseNamedOrPositionalInt("scale")
		if err != nil {
			return nil, err
		}
		if err := p.expectRParen(); err != nil {
			return nil, err
		}
		return &ast.Type{Kind: ast.KindDecimal, Precision: int(precision), Scale: int(scale)}, nil
	case "Text":
		if p.peek().Kind != lexer.LParen {
			return &ast.Type{Kind: ast.KindText}, nil
		}
		p.advance()
		maxLen, err := p.parseNamedOrPositionalInt("max_length")
		if err != nil {
			return nil, err
		}
		if err := p.expectRParen(); err != nil {
			return nil, err
		}
		return &ast.Type{Kind: ast.KindText, MaxLength: int(maxLen)}, nil
	case "Money":
		if err := p.expectLParen(); err != nil {
			return nil, err
		}
		if p.isWord("currency") {
			p.advance()
			if err := p.expectColon(); err != nil {
				return nil, err
			}
		}
		currency, err := p.takeStr()
		if err != nil {
			return nil, err
		}
		if err := p.expectRParen(); err != nil {
			return nil, err
		}
		return &ast.Type{Kind: ast.KindMoney, Currency: currency}, nil
	case "Duration":
		return p.parseDurationType()
	case "Enum":
		if err := p.expectLParen(); err != nil {
			return nil, err
		}
		if p.isWord("values") {
			p.advance()
			if err := p.expectColon(); err != nil {
				return nil, err
			}
		}
		values, err := p.parseStringArray()
		if err != nil {
			return nil, err
		}
		if err := p.expectRParen(); err != nil {
			return nil, err
		}
		return &ast.Type{Kind: ast.KindEnum, Values: values}, nil
	case "List":
		return p.parseListType()
	case "Record":
		if err := p.expectLParen(); err != nil {
			return nil, err
		}
		if p.isWord("fields") {
			p.advance()
			if err := p.expectColon(); err != nil {
				return nil, err
			}
		}
		fields, err := p.parseRecordFields()
		if err != nil {
			return nil, err
		}
		if err := p.expectRParen(); err != nil {
			return nil, err
		}
		return &ast.Type{Kind: ast.KindRecord, Fields: fields}, nil
	case "TaggedUnion":
		variants, err := p.parseRecordFields()
		if err != nil {
			return nil, err
		}
		return &ast.Type{Kind: ast.KindTaggedUnion, Fields: variants}, nil
	default:
		return &ast.Type{Kind: ast.KindRef, Ref: name}, nil
	}
}

func (p *parser) parseDurationType() (*ast.Type, *diag.Diagnostic) {
	if err := p.expectLParen(); err != nil {
		return nil, err
	}
	t := &ast.Type{Kind: ast.KindDuration, Max: math.MaxInt64}
	for p.peek().Kind != lexer.RParen {
		key, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if err := p.expectColon(); err != nil {
			return nil, err
		}
		switch key {
		case "unit":
			if t.Unit, err = p.takeStr(); err != nil {
				return nil, err
			}
		case "min":
			if t.Min, err = p.takeInt(); err != nil {
				return nil, err
			}
		case "max":
			if t.Max, err = p.takeInt(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errf("unknown Duration param '%s'", key)
		}
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	return t, nil
}

func (p *parser) parseListType() (*ast.Type, *diag.Diagnostic) {
	if err := p.expectLParen(); err != nil {
		return nil, err
	}
	var elem *ast.Type
	max := 0
	for p.peek().Kind != lexer.RParen {
		key, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if err := p.expectColon(); err != nil {
			return nil, err
		}
		switch key {
		case "element_type":
			if elem, err = p.parseType(); err != nil {
				return nil, err
			}
		case "max":
			n, err := p.takeInt()
			if err != nil {
				return nil, err
			}
			max = int(n)
		default:
			return nil, p.errf("unknown List param '%s'", key)
		}
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
	}
	if err := p.expectRParen(); err != nil {
		return nil, err
	}
	if elem == nil {
		return nil, p.errf("List missing element_type")
	}
	return &ast.Type{Kind: ast.KindList, Elem: elem, ListMax: max}, nil
}

func (p *parser) parseNamedOrPositionalInt(key string) (int64, *diag.Diagnostic) {
	if p.isWord(key) {
		p.advance()
		if err := p.expectColon(); err != nil {
			return 0, err
		}
	}
	return p.takeInt()
}

func (p *parser) parseIntParams() (int64, int64, *diag.Diagnostic) {
	if p.isWord("min") {
		p.advance()
		if err := p.expectColon(); err != nil {
			return 0, 0, err
		}
	}
	min, err := p.takeInt()
	if err != nil {
		return 0, 0, err
	}
	if p.peek().Kind == lexer.Comma {
		p.advance()
	}
	if p.isWord("max") {
		p.advance()
		if err := p.expectColon(); err != nil {
			return 0, 0, err
		}
	}
	max, err := p.takeInt()
	if err != nil {
		return 0, 0, err
	}
	return min, max, nil
}

func (p *parser) parseStringArray() ([]string, *diag.Diagnostic) {
	if err := p.expectLBracket(); err != nil {
		return nil, err
	}
	var values []string
	for p.peek().Kind != lexer.RBracket {
		v, err := p.takeStr()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
	}
	if err := p.expectRBracket(); err != nil {
		return nil, err
	}
	return values, nil
}

func (p *parser) parseIdentArray() ([]string, *diag.Diagnostic) {
	if err := p.expectLBracket(); err != nil {
		return nil, err
	}
	var items []string
	for p.peek().Kind != lexer.RBracket {
		w, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		items = append(items, w)
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
	}
	if err := p.expectRBracket(); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *parser) parseRecordFields() (map[string]*ast.Type, *diag.Diagnostic) {
	fields := make(map[string]*ast.Type)
	if err := p.expectLBrace(); err != nil {
		return nil, err
	}
	for p.peek().Kind != lexer.RBrace {
		name, err := p.takeWord()
		if err != nil {
			return nil, err
		}
		if err := p.expectColon(); err != nil {
			return nil, err
		}
		t, err := p.parseType()
		if err != nil {
			return nil, err
		}
		fields[name] = t
		if p.peek().Kind == lexer.Comma {
			p.advance()
		}
	}
	if err := p.expectRBrace(); err != nil {
		return nil, err
	}
	return fields, nil
}
