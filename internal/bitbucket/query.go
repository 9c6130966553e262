package bitbucket

import (
	"strconv"
	"strings"
	"time"

	"github.com/jacklau/reposcout/internal/filter"
)

var dateOps = []filter.Op{filter.OpEq, filter.OpGt, filter.OpGe, filter.OpLt, filter.OpLe}

var capabilities = filter.Capabilities{
	filter.FieldLanguage: {filter.OpEq, filter.OpNe},
	filter.FieldCreated:  dateOps,
	filter.FieldUpdated:  dateOps,
}

// buildQuery renders a BBQL expression. Every free-text word must appear in
// the name or the description.
func buildQuery(text string, native []filter.Atom) string {
	var clauses []string
	for _, w := range strings.Fields(text) {
		lit := strconv.Quote(w)
		clauses = append(clauses, "(name ~ "+lit+" OR description ~ "+lit+")")
	}
	for _, a := range native {
		clauses = append(clauses, clause(a)...)
	}
	return strings.Join(clauses, " AND ")
}

func clause(a filter.Atom) []string {
	switch a.Field {
	case filter.FieldLanguage:
		op := "="
		if a.Op == filter.OpNe {
			op = "!="
		}
		return []string{"language " + op + " " + strconv.Quote(a.Value.Str)}
	case filter.FieldCreated:
		return dateClause("created_on", a)
	case filter.FieldUpdated:
		return dateClause("updated_on", a)
	}
	return nil
}

// dateClause mirrors filter's calendar-day semantics: a date-only operand
// covers [day, day+24h).
func dateClause(field string, a filter.Atom) []string {
	v := a.Value
	if !v.DateOnly {
		return []string{field + " " + symbol(a.Op) + " " + bbTime(v.Time)}
	}
	start, end := v.Time, v.Time.Add(24*time.Hour)
	switch a.Op {
	case filter.OpEq:
		return []string{field + " >= " + bbTime(start), field + " < " + bbTime(end)}
	case filter.OpGt:
		return []string{field + " >= " + bbTime(end)}
	case filter.OpGe:
		return []string{field + " >= " + bbTime(start)}
	case filter.OpLt:
		return []string{field + " < " + bbTime(start)}
	case filter.OpLe:
		return []string{field + " < " + bbTime(end)}
	}
	return nil
}

func symbol(op filter.Op) string {
	switch op {
	case filter.OpGt:
		return ">"
	case filter.OpGe:
		return ">="
	case filter.OpLt:
		return "<"
	case filter.OpLe:
		return "<="
	}
	return "="
}

func bbTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
