package filter

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSyntax is matched by every *SyntaxError.
var ErrInvalidSyntax = errors.New("invalid filter syntax")

// SyntaxError reports malformed filter input. Pos is a byte offset into the
// expression and Token is the offending text ("EOF" at end of input).
type SyntaxError struct {
	Pos   int
	Token string
	Msg   string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid filter syntax at position %d near %q: %s", e.Pos, e.Token, e.Msg)
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrInvalidSyntax
}

type tokenType int

const (
	tokEOF tokenType = iota
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
	tokTerm
)

type token struct {
	typ  tokenType
	text string
	pos  int
}

func (t token) display() string {
	if t.typ == tokEOF {
		return "EOF"
	}
	return t.text
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{typ: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{typ: tokRParen, text: ")", pos: i})
			i++
		default:
			start := i
			var sb strings.Builder
			quoted := false
			for i < len(src) {
				c = src[i]
				if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' || c == ')' {
					break
				}
				if c != '"' {
					sb.WriteByte(c)
					i++
					continue
				}
				quoted = true
				i++
				closed := false
				for i < len(src) {
					c = src[i]
					if c == '\\' && i+1 < len(src) {
						sb.WriteByte(src[i+1])
						i += 2
						continue
					}
					if c == '"' {
						closed = true
						i++
						break
					}
					sb.WriteByte(c)
					i++
				}
				if !closed {
					return nil, &SyntaxError{Pos: start, Token: src[start:], Msg: "unterminated quoted value"}
				}
			}
			text := sb.String()
			typ := tokTerm
			if !quoted {
				switch strings.ToUpper(text) {
				case "AND":
					typ = tokAnd
				case "OR":
					typ = tokOr
				case "NOT":
					typ = tokNot
				}
			}
			toks = append(toks, token{typ: typ, text: text, pos: start})
		}
	}
	toks = append(toks, token{typ: tokEOF, pos: len(src)})
	return toks, nil
}
