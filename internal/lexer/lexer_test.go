package lexer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLex(t *testing.T, src string) []Token {
	t.Helper()
	tokens, err := Lex(src, "test.tenor")
	require.Nil(t, err)
	return tokens
}

func TestLexPunctuationAndOperators(t *testing.T) {
	tokens := mustLex(t, `{ } [ ] ( ) : , . = != < <= > >= *`)
	want := []Token{
		{Kind: LBrace, Line: 1},
		{Kind: RBrace, Line: 1},
		{Kind: LBracket, Line: 1},
		{Kind: RBracket, Line: 1},
		{Kind: LParen, Line: 1},
		{Kind: RParen, Line: 1},
		{Kind: Colon, Line: 1},
		{Kind: Comma, Line: 1},
		{Kind: Dot, Line: 1},
		{Kind: Eq, Line: 1},
		{Kind: Neq, Line: 1},
		{Kind: Lt, Line: 1},
		{Kind: Lte, Line: 1},
		{Kind: Gt, Line: 1},
		{Kind: Gte, Line: 1},
		{Kind: Star, Line: 1},
		{Kind: EOF, Line: 1},
	}
	if diff := cmp.Diff(want, tokens); diff != "" {
		t.Errorf("token mismatch (-want +got):\n%s", diff)
	}
}

func TestLexUnicodeLogicalOperators(t *testing.T) {
	tokens := mustLex(t, `∧ ∨ ¬ ∀ ∃ ∈ →`)
	kinds := make([]Kind, 0, len(tokens))
	for _, tok := range tokens {
		kinds = append(kinds, tok.Kind)
	}
	assert.Equal(t, []Kind{And, Or, Not, Forall, Exists, In, Arrow, EOF}, kinds)
}

func TestLexASCIIArrow(t *testing.T) {
	tokens := mustLex(t, `pending -> approved`)
	require.Len(t, tokens, 4)
	assert.Equal(t, Word, tokens[0].Kind)
	assert.Equal(t, Arrow, tokens[1].Kind)
	assert.Equal(t, Word, tokens[2].Kind)
}

func TestLexIdentifiers(t *testing.T) {
	tokens := mustLex(t, `fact loan_amount _internal x9`)
	require.Len(t, tokens, 5)
	assert.Equal(t, "fact", tokens[0].Text)
	assert.Equal(t, "loan_amount", tokens[1].Text)
	assert.Equal(t, "_internal", tokens[2].Text)
	assert.Equal(t, "x9", tokens[3].Text)
}

func TestLexNumbers(t *testing.T) {
	tokens := mustLex(t, `42 -7 3.14 -0.5`)
	require.Len(t, tokens, 5)
	assert.Equal(t, Int, tokens[0].Kind)
	assert.Equal(t, int64(42), tokens[0].Num)
	assert.Equal(t, Int, tokens[1].Kind)
	assert.Equal(t, int64(-7), tokens[1].Num)
	assert.Equal(t, Float, tokens[2].Kind)
	assert.Equal(t, "3.14", tokens[2].Text)
	assert.Equal(t, Float, tokens[3].Kind)
	assert.Equal(t, "-0.5", tokens[3].Text)
}

func TestLexDottedAccessKeepsIntSeparate(t *testing.T) {
	// item.quantity must lex as Word Dot Word, not a float.
	tokens := mustLex(t, `item.quantity`)
	require.Len(t, tokens, 4)
	assert.Equal(t, Word, tokens[0].Kind)
	assert.Equal(t, Dot, tokens[1].Kind)
	assert.Equal(t, Word, tokens[2].Kind)
}

func TestLexStringEscapes(t *testing.T) {
	tokens := mustLex(t, `"line\nbreak" "quote\"inside" "tab\there" "back\\slash"`)
	require.Len(t, tokens, 5)
	assert.Equal(t, "line\nbreak", tokens[0].Text)
	assert.Equal(t, `quote"inside`, tokens[1].Text)
	assert.Equal(t, "tab\there", tokens[2].Text)
	assert.Equal(t, `back\slash`, tokens[3].Text)
}

func TestLexComments(t *testing.T) {
	src := `
// line comment
fact a /* inline */ fact b
/* multi
   line */ fact c
`
	tokens := mustLex(t, src)
	words := make([]string, 0)
	for _, tok := range tokens {
		if tok.Kind == Word {
			words = append(words, tok.Text)
		}
	}
	assert.Equal(t, []string{"fact", "a", "fact", "b", "fact", "c"}, words)
}

func TestLexLineTracking(t *testing.T) {
	src := "fact a\nfact b\n\nfact c"
	tokens := mustLex(t, src)
	require.Len(t, tokens, 7)
	assert.Equal(t, 1, tokens[0].Line)
	assert.Equal(t, 2, tokens[2].Line)
	assert.Equal(t, 4, tokens[4].Line)
}

func TestLexUnterminatedString(t *testing.T) {
	_, err := Lex(`"never closed`, "test.tenor")
	require.NotNil(t, err)
	assert.Equal(t, "unterminated string literal", err.Message)
	assert.Equal(t, "test.tenor", err.File)
}

func TestLexNewlineInString(t *testing.T) {
	_, err := Lex("\"broken\nstring\"", "test.tenor")
	require.NotNil(t, err)
	assert.Equal(t, "unterminated string literal", err.Message)
}

func TestLexUnterminatedBlockComment(t *testing.T) {
	_, err := Lex(`fact a /* never closed`, "test.tenor")
	require.NotNil(t, err)
	assert.Equal(t, "unterminated block comment", err.Message)
}

func TestLexUnexpectedCharacter(t *testing.T) {
	_, err := Lex(`fact a @ b`, "test.tenor")
	require.NotNil(t, err)
	assert.Equal(t, "unexpected character '@'", err.Message)
	assert.Equal(t, 1, err.Line)
}

func TestLexBareBangRejected(t *testing.T) {
	_, err := Lex(`a ! b`, "test.tenor")
	require.NotNil(t, err)
	assert.Equal(t, "unexpected character '!'", err.Message)
}

func TestLexBareMinusRejected(t *testing.T) {
	_, err := Lex(`a - b`, "test.tenor")
	require.NotNil(t, err)
	assert.Equal(t, "unexpected character '-'", err.Message)
}

func TestLexIntegerOverflow(t *testing.T) {
	_, err := Lex(`99999999999999999999`, "test.tenor")
	require.NotNil(t, err)
	assert.Equal(t, "invalid integer '99999999999999999999'", err.Message)
}

func TestLexEmptySource(t *testing.T) {
	tokens := mustLex(t, "")
	require.Len(t, tokens, 1)
	assert.Equal(t, EOF, tokens[0].Kind)
}
