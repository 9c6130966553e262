package filter

import (
	"strconv"
	"strings"
	"time"
)

// Field is a filterable repository attribute.
type Field string

const (
	FieldStars      Field = "stars"
	FieldForks      Field = "forks"
	FieldWatchers   Field = "watchers"
	FieldIssues     Field = "issues"
	FieldSize       Field = "size"
	FieldLanguage   Field = "language"
	FieldTopic      Field = "topic"
	FieldLicense    Field = "license"
	FieldName       Field = "name"
	FieldOwner      Field = "owner"
	FieldPlatform   Field = "platform"
	FieldVisibility Field = "visibility"
	FieldArchived   Field = "archived"
	FieldCreated    Field = "created"
	FieldUpdated    Field = "updated"
	FieldPushed     Field = "pushed"
)

// Op is a comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGe       Op = "ge"
	OpLt       Op = "lt"
	OpLe       Op = "le"
	OpContains Op = "contains"
)

type valueKind int

const (
	kindInt valueKind = iota
	kindString
	kindSet
	kindBool
	kindDate
	kindEnum
)

var fieldKinds = map[Field]valueKind{
	FieldStars:      kindInt,
	FieldForks:      kindInt,
	FieldWatchers:   kindInt,
	FieldIssues:     kindInt,
	FieldSize:       kindInt,
	FieldLanguage:   kindString,
	FieldTopic:      kindSet,
	FieldLicense:    kindString,
	FieldName:       kindString,
	FieldOwner:      kindString,
	FieldPlatform:   kindEnum,
	FieldVisibility: kindEnum,
	FieldArchived:   kindBool,
	FieldCreated:    kindDate,
	FieldUpdated:    kindDate,
	FieldPushed:     kindDate,
}

var kindOps = map[valueKind][]Op{
	kindInt:    {OpEq, OpNe, OpGt, OpGe, OpLt, OpLe},
	kindString: {OpEq, OpNe, OpContains},
	kindSet:    {OpEq, OpNe, OpContains},
	kindBool:   {OpEq, OpNe},
	kindDate:   {OpEq, OpNe, OpGt, OpGe, OpLt, OpLe},
	kindEnum:   {OpEq, OpNe},
}

// Node is a predicate tree node: *Atom, *And, *Or or *Not.
type Node interface {
	String() string
	node()
}

// Value is a typed atom operand. Only the member matching the field's kind
// is meaningful.
type Value struct {
	Raw  string
	Int  int64
	Str  string
	Bool bool
	Time time.Time
	// DateOnly is set when Time was given as a calendar day.
	DateOnly bool
}

// Atom is a single field comparison.
type Atom struct {
	Field Field
	Op    Op
	Value Value
	// Pos is the byte offset of the term in the source expression.
	Pos int
}

// And matches when every term matches.
type And struct{ Terms []Node }

// Or matches when any term matches.
type Or struct{ Terms []Node }

// Not inverts its term.
type Not struct{ Term Node }

func (*Atom) node() {}
func (*And) node()  {}
func (*Or) node()   {}
func (*Not) node()  {}

func (a *Atom) String() string {
	return string(a.Field) + ":" + string(a.Op) + ":" + a.Value.canonical(fieldKinds[a.Field])
}

func (n *And) String() string {
	parts := make([]string, len(n.Terms))
	for i, t := range n.Terms {
		if _, ok := t.(*Or); ok {
			parts[i] = "(" + t.String() + ")"
		} else {
			parts[i] = t.String()
		}
	}
	return strings.Join(parts, " AND ")
}

func (n *Or) String() string {
	parts := make([]string, len(n.Terms))
	for i, t := range n.Terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, " OR ")
}

func (n *Not) String() string {
	switch n.Term.(type) {
	case *And, *Or:
		return "NOT (" + n.Term.String() + ")"
	}
	return "NOT " + n.Term.String()
}

func (v Value) canonical(k valueKind) string {
	switch k {
	case kindInt:
		return strconv.FormatInt(v.Int, 10)
	case kindBool:
		return strconv.FormatBool(v.Bool)
	case kindDate:
		if v.DateOnly {
			return v.Time.Format(time.DateOnly)
		}
		return v.Time.UTC().Format(time.RFC3339)
	}
	return quote(v.Str)
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"():") {
		return strconv.Quote(s)
	}
	return s
}
