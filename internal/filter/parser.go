package filter

import (
	"strconv"
	"strings"
	"time"

	"github.com/jacklau/reposcout/internal/model"
)

// Predicate is a compiled filter expression. A nil Root matches everything.
type Predicate struct {
	Root Node
}

// Compile parses a filter expression into a Predicate. Empty input yields a
// predicate that matches every repository.
//
// Grammar:
//
//	expr  := and ( OR and )*
//	and   := unary ( [AND] unary )*
//	unary := NOT unary | '(' expr ')' | term
//	term  := field ':' [op ':'] value
//
// Keywords are case-insensitive. Operators are eq, ne, gt, ge, lt, le,
// contains, or the symbolic prefixes = != > >= < <= directly before the
// value (stars:>100).
func Compile(src string) (*Predicate, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().typ == tokEOF {
		return &Predicate{}, nil
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.typ != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Token: t.display(), Msg: "unexpected token"}
	}
	return &Predicate{Root: root}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// static expressions.
func MustCompile(src string) *Predicate {
	p, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the canonical form of the predicate. Two predicates with
// the same canonical form match the same repositories.
func (p *Predicate) String() string {
	if p == nil || p.Root == nil {
		return ""
	}
	return p.Root.String()
}

// IsEmpty reports whether the predicate matches everything.
func (p *Predicate) IsEmpty() bool {
	return p == nil || p.Root == nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.typ != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseOr() (Node, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if p.peek().typ != tokOr {
		return first, nil
	}
	terms := flattenOr(nil, first)
	for p.peek().typ == tokOr {
		p.next()
		n, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = flattenOr(terms, n)
	}
	return &Or{Terms: terms}, nil
}

func flattenOr(terms []Node, n Node) []Node {
	if or, ok := n.(*Or); ok {
		return append(terms, or.Terms...)
	}
	return append(terms, n)
}

func (p *parser) parseAnd() (Node, error) {
	first, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	terms := flattenAnd(nil, first)
	for {
		t := p.peek()
		switch t.typ {
		case tokAnd:
			p.next()
		case tokNot, tokLParen, tokTerm:
			// implicit AND
		default:
			if len(terms) == 1 {
				return first, nil
			}
			return &And{Terms: terms}, nil
		}
		n, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		terms = flattenAnd(terms, n)
	}
}

func flattenAnd(terms []Node, n Node) []Node {
	if and, ok := n.(*And); ok {
		return append(terms, and.Terms...)
	}
	return append(terms, n)
}

func (p *parser) parseUnary() (Node, error) {
	t := p.next()
	switch t.typ {
	case tokNot:
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if not, ok := inner.(*Not); ok {
			return not.Term, nil
		}
		return &Not{Term: inner}, nil
	case tokLParen:
		if p.peek().typ == tokRParen {
			r := p.peek()
			return nil, &SyntaxError{Pos: r.pos, Token: r.display(), Msg: "empty group"}
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		r := p.next()
		if r.typ != tokRParen {
			return nil, &SyntaxError{Pos: r.pos, Token: r.display(), Msg: "missing closing parenthesis"}
		}
		return inner, nil
	case tokTerm:
		return parseTerm(t)
	case tokEOF:
		return nil, &SyntaxError{Pos: t.pos, Token: t.display(), Msg: "unexpected end of expression"}
	default:
		return nil, &SyntaxError{Pos: t.pos, Token: t.display(), Msg: "expected a field:op:value term"}
	}
}

var symbolicOps = []struct {
	prefix string
	op     Op
}{
	{">=", OpGe},
	{"<=", OpLe},
	{"!=", OpNe},
	{">", OpGt},
	{"<", OpLt},
	{"=", OpEq},
}

func parseTerm(t token) (Node, error) {
	fieldText, rest, ok := strings.Cut(t.text, ":")
	if !ok {
		return nil, &SyntaxError{Pos: t.pos, Token: t.text, Msg: "expected field:op:value"}
	}
	field := Field(strings.ToLower(fieldText))
	if field == "issue" {
		field = FieldIssues
	}
	kind, known := fieldKinds[field]
	if !known {
		return nil, &SyntaxError{Pos: t.pos, Token: fieldText, Msg: "unknown field"}
	}

	op := OpEq
	value := rest
	if opText, v, ok := strings.Cut(rest, ":"); ok {
		if o, valid := parseOp(opText); valid {
			op, value = o, v
		}
	}
	if op == OpEq && value == rest {
		for _, s := range symbolicOps {
			if strings.HasPrefix(rest, s.prefix) {
				op, value = s.op, rest[len(s.prefix):]
				break
			}
		}
	}

	if !opAllowed(kind, op) {
		return nil, &SyntaxError{Pos: t.pos, Token: t.text, Msg: "operator " + string(op) + " not supported for field " + string(field)}
	}
	v, err := parseValue(field, kind, value)
	if err != nil {
		return nil, &SyntaxError{Pos: t.pos, Token: t.text, Msg: err.Error()}
	}
	return &Atom{Field: field, Op: op, Value: v, Pos: t.pos}, nil
}

func parseOp(s string) (Op, bool) {
	switch strings.ToLower(s) {
	case "eq":
		return OpEq, true
	case "ne":
		return OpNe, true
	case "gt":
		return OpGt, true
	case "ge", "gte":
		return OpGe, true
	case "lt":
		return OpLt, true
	case "le", "lte":
		return OpLe, true
	case "contains":
		return OpContains, true
	}
	return "", false
}

func opAllowed(k valueKind, op Op) bool {
	for _, o := range kindOps[k] {
		if o == op {
			return true
		}
	}
	return false
}

type valueError string

func (e valueError) Error() string { return string(e) }

func parseValue(field Field, k valueKind, raw string) (Value, error) {
	v := Value{Raw: raw}
	if raw == "" {
		return v, valueError("missing value")
	}
	switch k {
	case kindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return v, valueError("expected a non-negative integer")
		}
		v.Int = n
	case kindBool:
		switch strings.ToLower(raw) {
		case "true", "yes", "1":
			v.Bool = true
		case "false", "no", "0":
			v.Bool = false
		default:
			return v, valueError("expected true or false")
		}
	case kindDate:
		if t, err := time.Parse(time.DateOnly, raw); err == nil {
			v.Time, v.DateOnly = t, true
			return v, nil
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return v, valueError("expected a date (YYYY-MM-DD) or RFC3339 timestamp")
		}
		v.Time = t.UTC()
	case kindEnum:
		s := strings.ToLower(raw)
		switch field {
		case FieldPlatform:
			p, err := model.ParsePlatform(s)
			if err != nil {
				return v, valueError("unknown platform")
			}
			s = string(p)
		case FieldVisibility:
			if s != model.VisibilityPublic && s != model.VisibilityPrivate && s != model.VisibilityInternal {
				return v, valueError("expected public, private or internal")
			}
		}
		v.Str = s
	default:
		v.Str = strings.ToLower(raw)
	}
	return v, nil
}
