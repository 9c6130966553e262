package filter

import (
	"strings"
	"time"

	"github.com/jacklau/reposcout/internal/model"
)

// Match reports whether repo satisfies the predicate.
func (p *Predicate) Match(repo *model.Repository) bool {
	if p.IsEmpty() {
		return true
	}
	return eval(p.Root, repo)
}

// Filter returns the repositories that satisfy the predicate, preserving order.
func (p *Predicate) Filter(repos []model.Repository) []model.Repository {
	if p.IsEmpty() {
		return repos
	}
	out := make([]model.Repository, 0, len(repos))
	for i := range repos {
		if eval(p.Root, &repos[i]) {
			out = append(out, repos[i])
		}
	}
	return out
}

func eval(n Node, r *model.Repository) bool {
	switch n := n.(type) {
	case *Atom:
		return n.Match(r)
	case *And:
		for _, t := range n.Terms {
			if !eval(t, r) {
				return false
			}
		}
		return true
	case *Or:
		for _, t := range n.Terms {
			if eval(t, r) {
				return true
			}
		}
		return false
	case *Not:
		return !eval(n.Term, r)
	}
	return false
}

// Match evaluates a single comparison against repo.
func (a *Atom) Match(r *model.Repository) bool {
	switch a.Field {
	case FieldStars:
		return compareInt(int64(r.Stars), a.Op, a.Value.Int)
	case FieldForks:
		return compareInt(int64(r.Forks), a.Op, a.Value.Int)
	case FieldWatchers:
		return compareInt(int64(r.Watchers), a.Op, a.Value.Int)
	case FieldIssues:
		return compareInt(int64(r.OpenIssues), a.Op, a.Value.Int)
	case FieldSize:
		return compareInt(r.Size, a.Op, a.Value.Int)
	case FieldLanguage:
		return compareString(r.Language, a.Op, a.Value.Str)
	case FieldLicense:
		return compareString(r.License, a.Op, a.Value.Str)
	case FieldName:
		return compareString(r.Name, a.Op, a.Value.Str)
	case FieldOwner:
		return compareString(r.Owner, a.Op, a.Value.Str)
	case FieldPlatform:
		return compareString(string(r.Platform), a.Op, a.Value.Str)
	case FieldVisibility:
		return compareString(r.Visibility, a.Op, a.Value.Str)
	case FieldTopic:
		return compareTopics(r.Topics, a.Op, a.Value.Str)
	case FieldArchived:
		if a.Op == OpNe {
			return r.Archived != a.Value.Bool
		}
		return r.Archived == a.Value.Bool
	case FieldCreated:
		return compareTime(r.CreatedAt, a.Op, a.Value)
	case FieldUpdated:
		return compareTime(r.UpdatedAt, a.Op, a.Value)
	case FieldPushed:
		return compareTime(r.PushedAt, a.Op, a.Value)
	}
	return false
}

func compareInt(got int64, op Op, want int64) bool {
	switch op {
	case OpEq:
		return got == want
	case OpNe:
		return got != want
	case OpGt:
		return got > want
	case OpGe:
		return got >= want
	case OpLt:
		return got < want
	case OpLe:
		return got <= want
	}
	return false
}

func compareString(got string, op Op, want string) bool {
	got = strings.ToLower(got)
	switch op {
	case OpEq:
		return got == want
	case OpNe:
		return got != want
	case OpContains:
		return strings.Contains(got, want)
	}
	return false
}

func compareTopics(topics []string, op Op, want string) bool {
	has := false
	for _, t := range topics {
		t = strings.ToLower(t)
		if (op == OpContains && strings.Contains(t, want)) || (op != OpContains && t == want) {
			has = true
			break
		}
	}
	if op == OpNe {
		return !has
	}
	return has
}

// compareTime treats a calendar-day operand as the half-open interval
// [day, day+24h).
func compareTime(got time.Time, op Op, v Value) bool {
	if got.IsZero() {
		return op == OpNe
	}
	start := v.Time
	end := v.Time
	if v.DateOnly {
		end = start.Add(24 * time.Hour)
	}
	switch op {
	case OpEq:
		if v.DateOnly {
			return !got.Before(start) && got.Before(end)
		}
		return got.Equal(start)
	case OpNe:
		return !compareTime(got, OpEq, v)
	case OpGt:
		if v.DateOnly {
			return !got.Before(end)
		}
		return got.After(start)
	case OpGe:
		return !got.Before(start)
	case OpLt:
		return got.Before(start)
	case OpLe:
		if v.DateOnly {
			return got.Before(end)
		}
		return !got.After(start)
	}
	return false
}

// Capabilities lists the field/operator pairs a platform can evaluate
// natively with semantics identical to Atom.Match.
type Capabilities map[Field][]Op

// Supports reports whether the atom can be pushed to the platform.
func (c Capabilities) Supports(a *Atom) bool {
	for _, op := range c[a.Field] {
		if op == a.Op {
			return true
		}
	}
	return false
}

// Partition splits the predicate for one platform. Only atoms that are
// top-level conjuncts can be pushed down; everything else, including every
// atom under OR or NOT, stays in the residual predicate which the caller
// evaluates locally.
func (p *Predicate) Partition(caps Capabilities) (native []Atom, residual *Predicate) {
	if p.IsEmpty() {
		return nil, &Predicate{}
	}
	var conjuncts []Node
	if and, ok := p.Root.(*And); ok {
		conjuncts = and.Terms
	} else {
		conjuncts = []Node{p.Root}
	}

	var rest []Node
	for _, n := range conjuncts {
		if a, ok := n.(*Atom); ok && caps.Supports(a) {
			native = append(native, *a)
			continue
		}
		rest = append(rest, n)
	}

	switch len(rest) {
	case 0:
		return native, &Predicate{}
	case 1:
		return native, &Predicate{Root: rest[0]}
	default:
		return native, &Predicate{Root: &And{Terms: rest}}
	}
}

// Atoms returns every atom in the predicate in source order.
func (p *Predicate) Atoms() []*Atom {
	if p.IsEmpty() {
		return nil
	}
	var out []*Atom
	var walk func(Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case *Atom:
			out = append(out, n)
		case *And:
			for _, t := range n.Terms {
				walk(t)
			}
		case *Or:
			for _, t := range n.Terms {
				walk(t)
			}
		case *Not:
			walk(n.Term)
		}
	}
	walk(p.Root)
	return out
}
