// Package query parses boolean search queries into evaluable predicates.
//
// The grammar is deliberately small: parenthesized OR-groups of quoted terms,
// joined by AND, with one optional trailing ANDNOT exclusion group.
//
//	("llm" OR "language model") AND ("safety" OR "alignment") ANDNOT ("hiring")
//
// Operators are case-insensitive and only legal outside quotes. Parsing
// validates the whole query up front so a malformed query fails before any
// search work starts.
package query

import (
	"fmt"
	"strings"
)

// InvalidQueryError describes why a query failed validation. Problems holds
// one entry per defect found.
type InvalidQueryError struct {
	Problems []string
}

func (e *InvalidQueryError) Error() string {
	return "invalid query: " + strings.Join(e.Problems, "; ")
}

// Predicate is a parsed query: an AND of OR-groups, plus exclusion terms from
// the ANDNOT group. It is immutable and safe for concurrent use.
type Predicate struct {
	groups     [][]string
	exclusions []string
}

// Groups returns the inclusion OR-groups.
func (p *Predicate) Groups() [][]string {
	out := make([][]string, len(p.groups))
	for i, g := range p.groups {
		out[i] = append([]string(nil), g...)
	}
	return out
}

// Exclusions returns the ANDNOT terms.
func (p *Predicate) Exclusions() []string {
	return append([]string(nil), p.exclusions...)
}

// Match evaluates the predicate against text. Term matching is
// case-insensitive substring containment. The predicate is true iff at least
// one term from every OR-group matches and no exclusion term matches.
func (p *Predicate) Match(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range p.exclusions {
		if strings.Contains(lower, strings.ToLower(term)) {
			return false
		}
	}
	for _, group := range p.groups {
		if !anyTermMatches(lower, group) {
			return false
		}
	}
	return true
}

func anyTermMatches(lower string, group []string) bool {
	for _, term := range group {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

type tokenKind int

const (
	tokLParen tokenKind = iota
	tokRParen
	tokTerm
	tokAnd
	tokOr
	tokAndNot
)

type token struct {
	kind tokenKind
	text string
}

// Parse validates and compiles a query. It never panics; every malformed
// input returns an *InvalidQueryError listing the defects.
func Parse(text string) (*Predicate, error) {
	tokens, problems := lex(text)
	problems = append(problems, checkBalance(text)...)
	if len(problems) > 0 {
		return nil, &InvalidQueryError{Problems: dedupe(problems)}
	}

	p := &parser{tokens: tokens}
	pred, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if len(pred.groups) == 0 {
		return nil, &InvalidQueryError{Problems: []string{"no inclusion terms: at least one quoted term is required before ANDNOT"}}
	}
	return pred, nil
}

func lex(text string) ([]token, []string) {
	var (
		tokens   []token
		problems []string
	)
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen})
			i++
		case c == '"':
			end := strings.IndexByte(text[i+1:], '"')
			if end < 0 {
				// Balance errors are reported by checkBalance; stop here.
				return tokens, problems
			}
			term := strings.TrimSpace(text[i+1 : i+1+end])
			if term != "" {
				tokens = append(tokens, token{kind: tokTerm, text: term})
			}
			i += end + 2
		case isSpace(c):
			i++
		default:
			start := i
			for i < len(text) && !isSpace(text[i]) && text[i] != '(' && text[i] != ')' && text[i] != '"' {
				i++
			}
			word := text[start:i]
			switch strings.ToUpper(word) {
			case "AND":
				tokens = append(tokens, token{kind: tokAnd})
			case "OR":
				tokens = append(tokens, token{kind: tokOr})
			case "ANDNOT":
				tokens = append(tokens, token{kind: tokAndNot})
			default:
				problems = append(problems, fmt.Sprintf("unrecognized operator %q (use AND, OR, ANDNOT; terms belong in quotes)", word))
			}
		}
	}
	return tokens, problems
}

func checkBalance(text string) []string {
	var problems []string
	opens := strings.Count(text, "(")
	closes := strings.Count(text, ")")
	if opens != closes {
		problems = append(problems, fmt.Sprintf("unbalanced parentheses: %d open, %d close", opens, closes))
	}
	if quotes := strings.Count(text, `"`); quotes%2 != 0 {
		problems = append(problems, fmt.Sprintf("unbalanced quotes: %d quote characters", quotes))
	}
	if strings.TrimSpace(text) == "" {
		problems = append(problems, "query is empty")
	}
	return problems
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) next() (token, bool) {
	tok, ok := p.peek()
	if ok {
		p.pos++
	}
	return tok, ok
}

func (p *parser) fail(format string, args ...any) error {
	return &InvalidQueryError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// parseQuery = andExpr [ANDNOT orGroup] EOF
func (p *parser) parseQuery() (*Predicate, error) {
	pred := &Predicate{}
	if tok, ok := p.peek(); ok && tok.kind == tokAndNot {
		return nil, p.fail("no inclusion terms: query cannot start with ANDNOT")
	}
	if err := p.parseAndExpr(pred); err != nil {
		return nil, err
	}
	if tok, ok := p.peek(); ok && tok.kind == tokAndNot {
		p.pos++
		terms, err := p.parseOrGroup()
		if err != nil {
			return nil, err
		}
		pred.exclusions = terms
	}
	if tok, ok := p.peek(); ok {
		return nil, p.fail("unexpected %s after end of query", describe(tok))
	}
	return pred, nil
}

// parseAndExpr = unit (AND unit)*
func (p *parser) parseAndExpr(pred *Predicate) error {
	for {
		if err := p.parseUnit(pred); err != nil {
			return err
		}
		tok, ok := p.peek()
		if !ok || tok.kind != tokAnd {
			return nil
		}
		p.pos++
	}
}

// parseUnit = orGroup | '(' andExpr ')'
// A unit starting with '((' is a nested AND expression; one starting with a
// quoted term is an OR-group.
func (p *parser) parseUnit(pred *Predicate) error {
	tok, ok := p.peek()
	if !ok {
		return p.fail("expected a parenthesized group")
	}
	if tok.kind == tokTerm {
		// Bare top-level term: treat as a single-term group.
		p.pos++
		pred.groups = append(pred.groups, []string{tok.text})
		return nil
	}
	if tok.kind != tokLParen {
		return p.fail("expected '(' but found %s", describe(tok))
	}
	if inner, ok := p.peekAt(1); ok && inner.kind == tokLParen {
		p.pos++ // consume '('
		if err := p.parseAndExpr(pred); err != nil {
			return err
		}
		tok, ok := p.next()
		if !ok || tok.kind != tokRParen {
			return p.fail("expected ')' to close nested group")
		}
		return nil
	}
	terms, err := p.parseOrGroup()
	if err != nil {
		return err
	}
	pred.groups = append(pred.groups, terms)
	return nil
}

// parseOrGroup = '(' TERM (OR TERM)* ')'
func (p *parser) parseOrGroup() ([]string, error) {
	tok, ok := p.next()
	if !ok || tok.kind != tokLParen {
		return nil, p.fail("expected '(' to open a term group")
	}
	var terms []string
	for {
		tok, ok := p.next()
		if !ok {
			return nil, p.fail("unterminated term group")
		}
		switch tok.kind {
		case tokRParen:
			if len(terms) == 0 {
				return nil, p.fail("empty group: () must contain at least one quoted term")
			}
			return terms, nil
		case tokTerm:
			terms = append(terms, tok.text)
		case tokOr:
			// separator
		default:
			return nil, p.fail("unexpected %s inside term group", describe(tok))
		}
	}
}

func (p *parser) peekAt(offset int) (token, bool) {
	idx := p.pos + offset
	if idx >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[idx], true
}

func describe(tok token) string {
	switch tok.kind {
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokAnd:
		return "AND"
	case tokOr:
		return "OR"
	case tokAndNot:
		return "ANDNOT"
	default:
		return fmt.Sprintf("term %q", tok.text)
	}
}
