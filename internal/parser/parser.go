// Package parser turns a token stream into raw constructs. All constructs
// carry provenance (file, line of the opening keyword). No type checking or
// resolution happens here; that is elaboration's job.
package parser

import (
	"fmt"
	"strconv"

	"tenor/internal/ast"
	"tenor/internal/diag"
	"tenor/internal/lexer"
)

// DefaultMaxErrors caps how many diagnostics recovery mode collects before
// giving up on a file.
const DefaultMaxErrors = 10

// Parse consumes tokens and returns the file's constructs, failing on the
// first syntax error.
func Parse(tokens []lexer.Token, filename string) ([]ast.Construct, *diag.Diagnostic) {
	p := &parser{tokens: tokens, filename: filename}
	return p.parseFile()
}

// ParseRecovering parses with recovery at construct boundaries: when a
// construct body fails, tokens are skipped to the next closing brace at the
// same nesting level or the next top-level keyword, and parsing resumes.
// Returns the constructs that did parse plus the collected diagnostics.
func ParseRecovering(tokens []lexer.Token, filename string, maxErrors int) ([]ast.Construct, []*diag.Diagnostic) {
	p := &parser{tokens: tokens, filename: filename}
	var constructs []ast.Construct
	var errs []*diag.Diagnostic
	for p.peek().Kind != lexer.EOF {
		c, err := p.parseConstruct()
		if err != nil {
			errs = append(errs, err)
			if len(errs) >= maxErrors {
				break
			}
			p.recoverToNextConstruct()
			continue
		}
		constructs = append(constructs, c)
	}
	return constructs, errs
}

type parser struct {
	tokens   []lexer.Token
	pos      int
	filename string
}

func (p *parser) cur() lexer.Token {
	i := p.pos
	if i >= len(p.tokens) {
		i = len(p.tokens) - 1
	}
	return p.tokens[i]
}

func (p *parser) peek() lexer.Token { return p.cur() }

func (p *parser) curLine() int { return p.cur().Line }

func (p *parser) advance() lexer.Token {
	t := p.cur()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *parser) errf(format string, args ...any) *diag.Diagnostic {
	return diag.Parse(p.filename, p.curLine(), format, args...)
}

func describe(t lexer.Token) string {
	switch t.Kind {
	case lexer.Word:
		return fmt.Sprintf("'%s'", t.Text)
	case lexer.Str:
		return fmt.Sprintf("string %q", t.Text)
	case lexer.Int:
		return fmt.Sprintf("integer %d", t.Num)
	case lexer.Float:
		return fmt.Sprintf("decimal %s", t.Text)
	default:
		return t.Kind.String()
	}
}

func (p *parser) isWord(w string) bool {
	t := p.peek()
	return t.Kind == lexer.Word && t.Text == w
}

func (p *parser) takeWord() (string, *diag.Diagnostic) {
	t := p.peek()
	if t.Kind != lexer.Word {
		return "", p.errf("expected identifier, got %s", describe(t))
	}
	p.advance()
	return t.Text, nil
}

func (p *parser) takeStr() (string, *diag.Diagnostic) {
	t := p.peek()
	if t.Kind != lexer.Str {
		return "", p.errf("expected string literal, got %s", describe(t))
	}
	p.advance()
	return t.Text, nil
}

func (p *parser) takeInt() (int64, *diag.Diagnostic) {
	t := p.peek()
	switch t.Kind {
	case lexer.Int:
		p.advance()
		return t.Num, nil
	case lexer.Word:
		if n, err := strconv.ParseInt(t.Text, 10, 64); err == nil {
			p.advance()
			return n, nil
		}
	}
	return 0, p.errf("expected integer, got %s", describe(t))
}

func (p *parser) expectWord(expected string) (int, *diag.Diagnostic) {
	t := p.peek()
	if t.Kind == lexer.Word && t.Text == expected {
		p.advance()
		return t.Line, nil
	}
	return 0, p.errf("expected '%s', got %s", expected, describe(t))
}

func (p *parser) expectKind(k lexer.Kind) *diag.Diagnostic {
	if p.peek().Kind == k {
		p.advance()
		return nil
	}
	return p.errf("expected %s, got %s", k, describe(p.peek()))
}

func (p *parser) expectColon() *diag.Diagnostic    { return p.expectKind(lexer.Colon) }
func (p *parser) expectLBrace() *diag.Diagnostic   { return p.expectKind(lexer.LBrace) }
func (p *parser) expectRBrace() *diag.Diagnostic   { return p.expectKind(lexer.RBrace) }
func (p *parser) expectLParen() *diag.Diagnostic   { return p.expectKind(lexer.LParen) }
func (p *parser) expectRParen() *diag.Diagnostic   { return p.expectKind(lexer.RParen) }
func (p *parser) expectLBracket() *diag.Diagnostic { return p.expectKind(lexer.LBracket) }
func (p *parser) expectRBracket() *diag.Diagnostic { return p.expectKind(lexer.RBracket) }
func (p *parser) expectComma() *diag.Diagnostic    { return p.expectKind(lexer.Comma) }
func (p *parser) expectEq() *diag.Diagnostic       { return p.expectKind(lexer.Eq) }

func (p *parser) prov(line int) ast.Provenance {
	return ast.Provenance{File: p.filename, Line: line}
}

// parseFile parses every top-level construct and enforces the file-level
// System constraints: at most one System declaration, and a System file may
// not mix in contract constructs.
func (p *parser) parseFile() ([]ast.Construct, *diag.Diagnostic) {
	var constructs []ast.Construct
	for p.peek().Kind != lexer.EOF {
		c, err := p.parseConstruct()
		if err != nil {
			return nil, err
		}
		constructs = append(constructs, c)
	}

	var systems []*ast.System
	for _, c := range constructs {
		if s, ok := c.(*ast.System); ok {
			systems = append(systems, s)
		}
	}
	if len(systems) > 1 {
		prov := systems[1].Provenance
		return nil, diag.Parse(prov.File, prov.Line, "multiple System declarations in a single file")
	}
	if len(systems) > 0 {
		for _, c := range constructs {
			switch c.(type) {
			case *ast.System, *ast.Import:
			default:
				prov := c.Prov()
				return nil, diag.Parse(prov.File, prov.Line, "System files may not contain contract constructs")
			}
		}
	}
	return constructs, nil
}

func (p *parser) parseConstruct() (ast.Construct, *diag.Diagnostic) {
	line := p.curLine()
	t := p.peek()
	if t.Kind != lexer.Word {
		return nil, p.errf("expected construct keyword, got %s", describe(t))
	}
	switch t.Text {
	case "import":
		return p.parseImport(line)
	case "type":
		return p.parseTypeDecl(line)
	case "fact":
		return p.parseFact(line)
	case "entity":
		return p.parseEntity(line)
	case "rule":
		return p.parseRule(line)
	case "operation":
		return p.parseOperation(line)
	case "flow":
		return p.parseFlow(line)
	case "persona":
		return p.parsePersona(line)
	case "system":
		return p.parseSystem(line)
	case "source":
		return p.parseSource(line)
	default:
		return nil, p.errf("unexpected token '%s'", t.Text)
	}
}

func (p *parser) parseImport(line int) (ast.Construct, *diag.Diagnostic) {
	p.advance()
	path, err := p.takeStr()
	if err != nil {
		return nil, err
	}
	return &ast.Import{Path: path, Provenance: p.prov(line)}, nil
}

func (p *parser) parsePersona(line int) (ast.Construct, *diag.Diagnostic) {
	p.advance()
	id, err := p.takeWord()
	if err != nil {
		return nil, err
	}
	return &ast.Persona{ID: id, Provenance: p.prov(line)}, nil
}

func isConstructKeyword(t lexer.Token) bool {
	if t.Kind != lexer.Word {
		return false
	}
	switch t.Text {
	case "fact", "entity", "rule", "operation", "flow", "type", "persona", "system", "import", "source":
		return true
	}
	return false
}

// recoverToNextConstruct skips to a closing brace at the broken construct's
// nesting level or to a top-level construct keyword.
func (p *parser) recoverToNextConstruct() {
	depth := 0
	for {
		switch p.peek().Kind {
		case lexer.EOF:
			return
		case lexer.LBrace:
			depth++
			p.advance()
		case lexer.RBrace:
			if depth <= 0 {
				p.advance()
				return
			}
			depth--
			p.advance()
		default:
			if depth == 0 && isConstructKeyword(p.peek()) {
				return
			}
			p.advance()
		}
	}
}
