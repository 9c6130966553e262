package github

import (
	"strconv"
	"strings"
	"time"

	"github.com/jacklau/reposcout/internal/filter"
)

var numericOps = []filter.Op{filter.OpEq, filter.OpGt, filter.OpGe, filter.OpLt, filter.OpLe}

// capabilities lists filters whose search qualifier matches exactly what
// filter.Atom.Match evaluates locally.
var capabilities = filter.Capabilities{
	filter.FieldStars:      numericOps,
	filter.FieldForks:      numericOps,
	filter.FieldSize:       numericOps,
	filter.FieldLanguage:   {filter.OpEq, filter.OpNe},
	filter.FieldTopic:      {filter.OpEq, filter.OpNe},
	filter.FieldLicense:    {filter.OpEq},
	filter.FieldArchived:   {filter.OpEq},
	filter.FieldVisibility: {filter.OpEq},
	filter.FieldCreated:    numericOps,
	filter.FieldPushed:     numericOps,
}

// buildQuery renders the search q parameter: free text followed by one
// qualifier per native atom.
func buildQuery(text string, native []filter.Atom) string {
	parts := strings.Fields(text)
	for _, a := range native {
		if q := qualifier(a); q != "" {
			parts = append(parts, q)
		}
	}
	if len(parts) == 0 {
		// GitHub rejects an empty q.
		return "stars:>=0"
	}
	return strings.Join(parts, " ")
}

func qualifier(a filter.Atom) string {
	switch a.Field {
	case filter.FieldStars, filter.FieldForks, filter.FieldSize:
		return string(a.Field) + ":" + rangeOp(a.Op) + strconv.FormatInt(a.Value.Int, 10)
	case filter.FieldCreated, filter.FieldPushed:
		return string(a.Field) + ":" + rangeOp(a.Op) + dateValue(a.Value)
	case filter.FieldLanguage, filter.FieldTopic, filter.FieldLicense:
		q := string(a.Field) + ":" + quoteValue(a.Value.Str)
		if a.Op == filter.OpNe {
			return "-" + q
		}
		return q
	case filter.FieldArchived:
		return "archived:" + strconv.FormatBool(a.Value.Bool)
	case filter.FieldVisibility:
		return "is:" + a.Value.Str
	}
	return ""
}

func rangeOp(op filter.Op) string {
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
	return ""
}

func dateValue(v filter.Value) string {
	if v.DateOnly {
		return v.Time.Format(time.DateOnly)
	}
	return v.Time.UTC().Format(time.RFC3339)
}

func quoteValue(s string) string {
	if strings.ContainsAny(s, " \t\"") {
		return strconv.Quote(s)
	}
	return s
}
