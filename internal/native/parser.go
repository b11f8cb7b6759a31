package native

import (
	"fmt"
	"strings"
	"unicode"
)

// SetExpr is a parsed set expression.
type SetExpr interface {
	setExpr()
}

// MemberRef names one member by unique name.
type MemberRef struct {
	Parts []string
}

func (MemberRef) setExpr() {}

// SetLiteral is {a, b, ...}.
type SetLiteral struct {
	Items []SetExpr
}

func (SetLiteral) setExpr() {}

// LevelMembers is [H].[L].members.
type LevelMembers struct {
	Hierarchy, Level string
}

func (LevelMembers) setExpr() {}

// HierarchyMembers is [H].members.
type HierarchyMembers struct {
	Hierarchy string
}

func (HierarchyMembers) setExpr() {}

// CrossJoin is CROSSJOIN(a, b, ...).
type CrossJoin struct {
	Args []SetExpr
}

func (CrossJoin) setExpr() {}

// AxisSpec is one query axis.
type AxisSpec struct {
	NonEmpty bool
	Set      SetExpr
}

// Statement is a parsed query.
type Statement struct {
	Columns AxisSpec
	Rows    *AxisSpec
	Cube    string
	Where   SetExpr
}

type tokenType int

const (
	tokenEOF tokenType = iota
	tokenIllegal
	tokenName    // [bracketed]
	tokenKeyword // SELECT, FROM, ...
	tokenDot
	tokenComma
	tokenLBrace
	tokenRBrace
	tokenLParen
	tokenRParen
)

type token struct {
	typ tokenType
	val string
	pos int
}

func (t token) String() string {
	if t.typ == tokenEOF {
		return "end of query"
	}
	return fmt.Sprintf("%q at %d", t.val, t.pos)
}

var punctuation = map[byte]tokenType{
	'.': tokenDot, ',': tokenComma,
	'{': tokenLBrace, '}': tokenRBrace,
	'(': tokenLParen, ')': tokenRParen,
}

type lexer struct {
	input string
	pos   int
}

func (l *lexer) next() token {
	for l.pos < len(l.input) && unicode.IsSpace(rune(l.input[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.input) {
		return token{typ: tokenEOF, pos: l.pos}
	}
	start := l.pos
	ch := l.input[l.pos]
	if typ, ok := punctuation[ch]; ok {
		l.pos++
		return token{typ: typ, val: string(ch), pos: start}
	}
	if ch == '[' {
		return l.scanName()
	}
	if isKeywordChar(ch) {
		for l.pos < len(l.input) && isKeywordChar(l.input[l.pos]) {
			l.pos++
		}
		return token{typ: tokenKeyword, val: strings.ToUpper(l.input[start:l.pos]), pos: start}
	}
	l.pos++
	return token{typ: tokenIllegal, val: string(ch), pos: start}
}

// scanName reads a bracketed segment; "]]" is an escaped bracket.
func (l *lexer) scanName() token {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == ']' {
			if l.pos+1 < len(l.input) && l.input[l.pos+1] == ']' {
				sb.WriteByte(']')
				l.pos += 2
				continue
			}
			l.pos++
			return token{typ: tokenName, val: sb.String(), pos: start}
		}
		sb.WriteByte(ch)
		l.pos++
	}
	return token{typ: tokenIllegal, val: l.input[start:], pos: start}
}

func isKeywordChar(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

type parser struct {
	lex *lexer
	cur token
}

// Parse parses a query.
// Grammar:
//
//	stmt  = SELECT axis [',' axis] FROM name [WHERE set]
//	axis  = [NON EMPTY] set ON (COLUMNS | ROWS)
//	set   = '{' [set (',' set)*] '}'
//	      | CROSSJOIN '(' set (',' set)* ')'
//	      | name ('.' name)* ['.' MEMBERS]
func Parse(input string) (*Statement, error) {
	p := &parser{lex: &lexer{input: input}}
	p.advance()
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	return stmt, nil
}

func (p *parser) advance() { p.cur = p.lex.next() }

func (p *parser) keyword(kw string) bool {
	if p.cur.typ == tokenKeyword && p.cur.val == kw {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expect(typ tokenType, what string) (token, error) {
	if p.cur.typ != typ {
		return token{}, fmt.Errorf("expected %s, got %s", what, p.cur)
	}
	t := p.cur
	p.advance()
	return t, nil
}

func (p *parser) expectKeyword(kw string) error {
	if !p.keyword(kw) {
		return fmt.Errorf("expected %s, got %s", kw, p.cur)
	}
	return nil
}

func (p *parser) parseStatement() (*Statement, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	stmt := &Statement{}
	seen := map[string]bool{}
	for {
		axis, name, err := p.parseAxis()
		if err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, fmt.Errorf("axis %s specified twice", name)
		}
		seen[name] = true
		if name == "COLUMNS" {
			stmt.Columns = axis
		} else {
			a := axis
			stmt.Rows = &a
		}
		if p.cur.typ != tokenComma {
			break
		}
		p.advance()
	}
	if !seen["COLUMNS"] {
		return nil, fmt.Errorf("a COLUMNS axis is required")
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.expect(tokenName, "cube name")
	if err != nil {
		return nil, err
	}
	stmt.Cube = name.val
	if p.keyword("WHERE") {
		if stmt.Where, err = p.parseSet(); err != nil {
			return nil, err
		}
	}
	if p.cur.typ != tokenEOF {
		return nil, fmt.Errorf("unexpected %s", p.cur)
	}
	return stmt, nil
}

func (p *parser) parseAxis() (AxisSpec, string, error) {
	var axis AxisSpec
	if p.keyword("NON") {
		if err := p.expectKeyword("EMPTY"); err != nil {
			return axis, "", err
		}
		axis.NonEmpty = true
	}
	set, err := p.parseSet()
	if err != nil {
		return axis, "", err
	}
	axis.Set = set
	if err := p.expectKeyword("ON"); err != nil {
		return axis, "", err
	}
	switch {
	case p.keyword("COLUMNS"):
		return axis, "COLUMNS", nil
	case p.keyword("ROWS"):
		return axis, "ROWS", nil
	default:
		return axis, "", fmt.Errorf("expected COLUMNS or ROWS, got %s", p.cur)
	}
}

func (p *parser) parseSet() (SetExpr, error) {
	switch {
	case p.cur.typ == tokenLBrace:
		p.advance()
		lit := SetLiteral{}
		if p.cur.typ == tokenRBrace {
			p.advance()
			return lit, nil
		}
		items, err := p.parseList(tokenRBrace, "'}'")
		if err != nil {
			return nil, err
		}
		lit.Items = items
		return lit, nil
	case p.keyword("CROSSJOIN"):
		if _, err := p.expect(tokenLParen, "'('"); err != nil {
			return nil, err
		}
		args, err := p.parseList(tokenRParen, "')'")
		if err != nil {
			return nil, err
		}
		return CrossJoin{Args: args}, nil
	case p.cur.typ == tokenName:
		return p.parseName()
	default:
		return nil, fmt.Errorf("expected a set, got %s", p.cur)
	}
}

func (p *parser) parseList(closing tokenType, what string) ([]SetExpr, error) {
	var items []SetExpr
	for {
		s, err := p.parseSet()
		if err != nil {
			return nil, err
		}
		items = append(items, s)
		if p.cur.typ == tokenComma {
			p.advance()
			continue
		}
		if _, err := p.expect(closing, what); err != nil {
			return nil, err
		}
		return items, nil
	}
}

func (p *parser) parseName() (SetExpr, error) {
	var parts []string
	for {
		t, err := p.expect(tokenName, "a bracketed name")
		if err != nil {
			return nil, err
		}
		parts = append(parts, t.val)
		if p.cur.typ != tokenDot {
			break
		}
		p.advance()
		if p.keyword("MEMBERS") {
			switch len(parts) {
			case 1:
				return HierarchyMembers{Hierarchy: parts[0]}, nil
			case 2:
				return LevelMembers{Hierarchy: parts[0], Level: parts[1]}, nil
			default:
				return nil, fmt.Errorf(".members after %d name segments", len(parts))
			}
		}
	}
	if len(parts) != 3 {
		return nil, fmt.Errorf("member reference needs 3 name segments, got %d", len(parts))
	}
	return MemberRef{Parts: parts}, nil
}
