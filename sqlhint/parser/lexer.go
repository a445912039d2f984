package parser

import (
	"fmt"
	"unicode"
	"unicode/utf8"
)

// TokenType is the kind of a directive token
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenWord
	TokenLeftParen
	TokenRightParen
	TokenComma
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenWord:
		return "word"
	case TokenLeftParen:
		return "'('"
	case TokenRightParen:
		return "')'"
	case TokenComma:
		return "','"
	default:
		return fmt.Sprintf("TokenType(%d)", int(t))
	}
}

// Token is one lexical unit of a hint list
type Token struct {
	Type   TokenType
	Value  string
	Offset int
}

// Lexer tokenizes the body of one hint comment. Names and arguments are both
// words; the parser decides which is which by position.
type Lexer struct {
	input  string
	base   int
	pos    int
	tokens []Token
}

// NewLexer creates a lexer for a hint list body. base is the offset of the
// body inside the full directive text and is added to token offsets.
func NewLexer(input string, base int) *Lexer {
	return &Lexer{
		input: input,
		base:  base,
	}
}

// Lex tokenizes the entire input. It never fails: every rune belongs to a
// word, a delimiter or whitespace.
func (l *Lexer) Lex() []Token {
	for l.pos < len(l.input) {
		ch, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if unicode.IsSpace(ch) {
			l.pos += size
			continue
		}

		start := l.pos
		switch ch {
		case '(':
			l.pos++
			l.emit(TokenLeftParen, "(", start)
		case ')':
			l.pos++
			l.emit(TokenRightParen, ")", start)
		case ',':
			l.pos++
			l.emit(TokenComma, ",", start)
		default:
			l.emit(TokenWord, l.readWord(), start)
		}
	}

	l.emit(TokenEOF, "", l.pos)
	return l.tokens
}

func (l *Lexer) emit(t TokenType, v string, offset int) {
	l.tokens = append(l.tokens, Token{Type: t, Value: v, Offset: l.base + offset})
}

// readWord reads up to the next delimiter or whitespace
func (l *Lexer) readWord() string {
	start := l.pos
	for l.pos < len(l.input) {
		ch, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if unicode.IsSpace(ch) || ch == '(' || ch == ')' || ch == ',' {
			break
		}
		l.pos += size
	}
	return l.input[start:l.pos]
}
