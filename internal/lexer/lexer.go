// Package lexer tokenizes Tenor contract source. Logical operators use
// Unicode (∧ ∨ ¬ ∀ ∃ ∈); the transition arrow accepts both → and ASCII ->.
package lexer

import (
	"strconv"
	"unicode"

	"tenor/internal/diag"
)

// Kind enumerates token kinds.
type Kind int

const (
	// Word covers identifiers and keywords; the parser tells them apart.
	Word Kind = iota
	Str
	Int
	Float
	LBrace
	RBrace
	LBracket
	RBracket
	LParen
	RParen
	Colon
	Comma
	Dot
	Eq
	Neq
	Lt
	Lte
	Gt
	Gte
	Star
	And
	Or
	Not
	Forall
	Exists
	In
	Arrow
	EOF
)

func (k Kind) String() string {
	switch k {
	case Word:
		return "identifier"
	case Str:
		return "string"
	case Int:
		return "integer"
	case Float:
		return "decimal"
	case LBrace:
		return "'{'"
	case RBrace:
		return "'}'"
	case LBracket:
		return "'['"
	case RBracket:
		return "']'"
	case LParen:
		return "'('"
	case RParen:
		return "')'"
	case Colon:
		return "':'"
	case Comma:
		return "','"
	case Dot:
		return "'.'"
	case Eq:
		return "'='"
	case Neq:
		return "'!='"
	case Lt:
		return "'<'"
	case Lte:
		return "'<='"
	case Gt:
		return "'>'"
	case Gte:
		return "'>='"
	case Star:
		return "'*'"
	case And:
		return "'∧'"
	case Or:
		return "'∨'"
	case Not:
		return "'¬'"
	case Forall:
		return "'∀'"
	case Exists:
		return "'∃'"
	case In:
		return "'∈'"
	case Arrow:
		return "'→'"
	case EOF:
		return "end of input"
	}
	return "unknown token"
}

// Token is one lexed token with its source line.
type Token struct {
	Kind Kind
	Text string // Word, Str content, Float representation
	Num  int64  // Int value
	Line int
}

// Lex tokenizes src, appending a final EOF token. The first lexical error
// aborts with a pass-0 diagnostic.
func Lex(src, filename string) ([]Token, *diag.Diagnostic) {
	runes := []rune(src)
	var tokens []Token
	pos := 0
	line := 1

	push := func(k Kind, text string, num int64, ln int) {
		tokens = append(tokens, Token{Kind: k, Text: text, Num: num, Line: ln})
	}

	for pos < len(runes) {
		c := runes[pos]

		// Line comment
		if c == '/' && pos+1 < len(runes) && runes[pos+1] == '/' {
			for pos < len(runes) && runes[pos] != '\n' {
				pos++
			}
			continue
		}

		// Block comment
		if c == '/' && pos+1 < len(runes) && runes[pos+1] == '*' {
			pos += 2
			for {
				if pos >= len(runes) {
					return nil, diag.Lex(filename, line, "unterminated block comment")
				}
				if runes[pos] == '\n' {
					line++
				}
				if runes[pos] == '*' && pos+1 < len(runes) && runes[pos+1] == '/' {
					pos += 2
					break
				}
				pos++
			}
			continue
		}

		if unicode.IsSpace(c) {
			if c == '\n' {
				line++
			}
			pos++
			continue
		}

		tokLine := line

		// String literal
		if c == '"' {
			pos++
			var sb []rune
			for {
				if pos >= len(runes) {
					return nil, diag.Lex(filename, tokLine, "unterminated string literal")
				}
				sc := runes[pos]
				if sc == '"' {
					pos++
					break
				}
				if sc == '\\' {
					pos++
					if pos >= len(runes) {
						return nil, diag.Lex(filename, tokLine, "unterminated escape in string")
					}
					switch runes[pos] {
					case '"':
						sb = append(sb, '"')
					case '\\':
						sb = append(sb, '\\')
					case 'n':
						sb = append(sb, '\n')
					case 't':
						sb = append(sb, '\t')
					default:
						sb = append(sb, '\\', runes[pos])
					}
					pos++
					continue
				}
				if sc == '\n' {
					return nil, diag.Lex(filename, tokLine, "unterminated string literal")
				}
				sb = append(sb, sc)
				pos++
			}
			push(Str, string(sb), 0, tokLine)
			continue
		}

		// Number (with optional leading minus)
		if isDigit(c) || (c == '-' && pos+1 < len(runes) && isDigit(runes[pos+1])) {
			start := pos
			if c == '-' {
				pos++
			}
			for pos < len(runes) && isDigit(runes[pos]) {
				pos++
			}
			if pos < len(runes) && runes[pos] == '.' && pos+1 < len(runes) && isDigit(runes[pos+1]) {
				pos++
				for pos < len(runes) && isDigit(runes[pos]) {
					pos++
				}
				push(Float, string(runes[start:pos]), 0, tokLine)
			} else {
				text := string(runes[start:pos])
				n, err := strconv.ParseInt(text, 10, 64)
				if err != nil {
					return nil, diag.Lex(filename, tokLine, "invalid integer '%s'", text)
				}
				push(Int, "", n, tokLine)
			}
			continue
		}

		// Operators and punctuation
		switch c {
		case '=':
			push(Eq, "", 0, tokLine)
			pos++
			continue
		case '<':
			if pos+1 < len(runes) && runes[pos+1] == '=' {
				push(Lte, "", 0, tokLine)
				pos += 2
			} else {
				push(Lt, "", 0, tokLine)
				pos++
			}
			continue
		case '>':
			if pos+1 < len(runes) && runes[pos+1] == '=' {
				push(Gte, "", 0, tokLine)
				pos += 2
			} else {
				push(Gt, "", 0, tokLine)
				pos++
			}
			continue
		case '!':
			if pos+1 < len(runes) && runes[pos+1] == '=' {
				push(Neq, "", 0, tokLine)
				pos += 2
				continue
			}
			return nil, diag.Lex(filename, tokLine, "unexpected character '!'")
		case '-':
			if pos+1 < len(runes) && runes[pos+1] == '>' {
				push(Arrow, "", 0, tokLine)
				pos += 2
				continue
			}
			return nil, diag.Lex(filename, tokLine, "unexpected character '-'")
		case '*':
			push(Star, "", 0, tokLine)
			pos++
			continue
		case '{':
			push(LBrace, "", 0, tokLine)
			pos++
			continue
		case '}':
			push(RBrace, "", 0, tokLine)
			pos++
			continue
		case '[':
			push(LBracket, "", 0, tokLine)
			pos++
			continue
		case ']':
			push(RBracket, "", 0, tokLine)
			pos++
			continue
		case '(':
			push(LParen, "", 0, tokLine)
			pos++
			continue
		case ')':
			push(RParen, "", 0, tokLine)
			pos++
			continue
		case ':':
			push(Colon, "", 0, tokLine)
			pos++
			continue
		case ',':
			push(Comma, "", 0, tokLine)
			pos++
			continue
		case '.':
			push(Dot, "", 0, tokLine)
			pos++
			continue
		case '∀':
			push(Forall, "", 0, tokLine)
			pos++
			continue
		case '∃':
			push(Exists, "", 0, tokLine)
			pos++
			continue
		case '∈':
			push(In, "", 0, tokLine)
			pos++
			continue
		case '∧':
			push(And, "", 0, tokLine)
			pos++
			continue
		case '∨':
			push(Or, "", 0, tokLine)
			pos++
			continue
		case '¬':
			push(Not, "", 0, tokLine)
			pos++
			continue
		case '→':
			push(Arrow, "", 0, tokLine)
			pos++
			continue
		}

		// Identifier or keyword
		if unicode.IsLetter(c) || c == '_' {
			start := pos
			for pos < len(runes) && (unicode.IsLetter(runes[pos]) || unicode.IsDigit(runes[pos]) || runes[pos] == '_') {
				pos++
			}
			push(Word, string(runes[start:pos]), 0, tokLine)
			continue
		}

		return nil, diag.Lex(filename, tokLine, "unexpected character '%c'", c)
	}

	push(EOF, "", 0, line)
	return tokens, nil
}

func isDigit(c rune) bool { return c >= '0' && c <= '9' }
