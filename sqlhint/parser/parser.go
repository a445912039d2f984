// Package parser turns the directive text attached to a query block into
// hint candidates. It performs no semantic validation: arguments are kept as
// raw text, duplicates are preserved and unknown names are skipped.
package parser

import (
	"strings"

	"github.com/wbrown/janus-recycler/sqlhint"
)

// Skip reasons
const (
	ReasonUnknownHint      = "unknown hint"
	ReasonUnexpectedToken  = "unexpected token"
	ReasonUnterminatedArgs = "unterminated argument list"
	ReasonNestedArgs       = "nested parentheses"
	ReasonUnterminated     = "unterminated hint comment"
)

// Skip is a fragment of directive text that produced no candidate
type Skip struct {
	Text   string
	Reason string
	Offset int
}

// Result is the outcome of parsing one block's directive text
type Result struct {
	Candidates []sqlhint.Candidate
	Skipped    []Skip
}

const (
	hintOpen  = "/*+"
	hintClose = "*/"
)

// Parse extracts hint candidates from directive text such as
// "/*+ cpu_mode, overlaps_max_size(2021) */". Text without a hint comment
// is read as a bare hint list unless it is an ordinary comment.
// Parse never fails; malformed fragments are reported in Result.Skipped.
func Parse(text string) Result {
	var res Result

	if !strings.Contains(text, hintOpen) {
		if strings.Contains(text, "/*") {
			return res
		}
		parseList(text, 0, &res)
		return res
	}

	rest, offset := text, 0
	for {
		i := strings.Index(rest, hintOpen)
		if i < 0 {
			break
		}
		bodyStart := i + len(hintOpen)
		j := strings.Index(rest[bodyStart:], hintClose)
		if j < 0 {
			res.Skipped = append(res.Skipped, Skip{
				Text:   strings.TrimSpace(rest[i:]),
				Reason: ReasonUnterminated,
				Offset: offset + i,
			})
			parseList(rest[bodyStart:], offset+bodyStart, &res)
			break
		}
		parseList(rest[bodyStart:bodyStart+j], offset+bodyStart, &res)

		next := bodyStart + j + len(hintClose)
		rest = rest[next:]
		offset += next
	}
	return res
}

// parseList parses "name[(arg, ...)] [, name[(arg, ...)]]..."
func parseList(body string, base int, res *Result) {
	p := &listParser{tokens: NewLexer(body, base).Lex(), res: res}
	p.parse()
}

type listParser struct {
	tokens  []Token
	current int
	res     *Result
}

func (p *listParser) next() Token {
	tok := p.tokens[p.current]
	if tok.Type != TokenEOF {
		p.current++
	}
	return tok
}

func (p *listParser) peek() Token {
	return p.tokens[p.current]
}

func (p *listParser) skip(text, reason string, offset int) {
	p.res.Skipped = append(p.res.Skipped, Skip{Text: text, Reason: reason, Offset: offset})
}

func (p *listParser) parse() {
	for {
		tok := p.next()
		switch tok.Type {
		case TokenEOF:
			return
		case TokenComma:
			continue
		case TokenWord:
			p.parseHint(tok)
		default:
			p.skip(tok.Value, ReasonUnexpectedToken, tok.Offset)
			if tok.Type == TokenLeftParen {
				p.skipArgs()
			}
		}
	}
}

func (p *listParser) parseHint(name Token) {
	var args []string
	if p.peek().Type == TokenLeftParen {
		p.next()
		var ok bool
		if args, ok = p.parseArgs(name); !ok {
			return
		}
	}

	kind, scope, ok := sqlhint.Lookup(name.Value)
	if !ok {
		p.skip(name.Value, ReasonUnknownHint, name.Offset)
		return
	}

	p.res.Candidates = append(p.res.Candidates, sqlhint.Candidate{
		Kind:   kind,
		Scope:  scope,
		Name:   strings.ToLower(name.Value),
		Args:   args,
		Offset: name.Offset,
	})
}

// parseArgs reads arguments up to the closing parenthesis. Empty
// parentheses yield no arguments.
func (p *listParser) parseArgs(name Token) ([]string, bool) {
	var args []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			args = append(args, strings.Join(cur, " "))
			cur = nil
		}
	}

	for {
		tok := p.next()
		switch tok.Type {
		case TokenEOF:
			p.skip(name.Value, ReasonUnterminatedArgs, name.Offset)
			return nil, false
		case TokenRightParen:
			flush()
			return args, true
		case TokenComma:
			flush()
		case TokenLeftParen:
			p.skip(name.Value, ReasonNestedArgs, name.Offset)
			p.skipArgs()
			p.skipArgs()
			return nil, false
		case TokenWord:
			cur = append(cur, tok.Value)
		}
	}
}

// skipArgs consumes tokens through the next closing parenthesis
func (p *listParser) skipArgs() {
	for {
		tok := p.next()
		if tok.Type == TokenEOF || tok.Type == TokenRightParen {
			return
		}
	}
}
