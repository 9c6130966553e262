package filter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacklau/reposcout/internal/model"
)

func sampleRepo() *model.Repository {
	return &model.Repository{
		Platform:   model.GitHub,
		Owner:      "BurntSushi",
		Name:       "ripgrep",
		Stars:      45000,
		Forks:      1800,
		Language:   "Rust",
		Topics:     []string{"cli", "search", "regex"},
		License:    "MIT",
		Visibility: model.VisibilityPublic,
		CreatedAt:  time.Date(2016, 3, 11, 12, 0, 0, 0, time.UTC),
		UpdatedAt:  time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC),
		PushedAt:   time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC),
	}
}

func TestCompileEmpty(t *testing.T) {
	for _, src := range []string{"", "   ", "\t\n"} {
		p, err := Compile(src)
		require.NoError(t, err)
		assert.True(t, p.IsEmpty())
		assert.True(t, p.Match(sampleRepo()))
		assert.Equal(t, "", p.String())
	}
}

func TestCompileCanonical(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"stars:gt:100", "stars:gt:100"},
		{"STARS:GTE:100", "stars:ge:100"},
		{"stars:>=100", "stars:ge:100"},
		{"language:Rust", "language:eq:rust"},
		{"stars:gt:10 language:eq:go", "stars:gt:10 AND language:eq:go"},
		{"stars:gt:10 and (language:go or language:rust)", "stars:gt:10 AND (language:eq:go OR language:eq:rust)"},
		{"not archived:true", "NOT archived:eq:true"},
		{"NOT NOT archived:true", "archived:eq:true"},
		{"not (a:b)", ""},
		{"name:contains:\"foo bar\"", "name:contains:\"foo bar\""},
		{"created:ge:2024-01-02", "created:ge:2024-01-02"},
		{"pushed:lt:2024-01-02T03:04:05Z", "pushed:lt:2024-01-02T03:04:05Z"},
		{"(stars:gt:1 AND forks:gt:2) AND issues:lt:3", "stars:gt:1 AND forks:gt:2 AND issues:lt:3"},
		{"platform:gh OR platform:gl OR platform:bb", "platform:eq:github OR platform:eq:gitlab OR platform:eq:bitbucket"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p, err := Compile(tt.src)
			if tt.want == "" {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())

			again, err := Compile(p.String())
			require.NoError(t, err, "canonical form must re-parse")
			assert.Equal(t, p.String(), again.String())
		})
	}
}

func TestSyntaxErrors(t *testing.T) {
	tests := []struct {
		src   string
		pos   int
		token string
	}{
		{"stars:gt:100 AND", 16, "EOF"},
		{"(stars:gt:1", 11, "EOF"},
		{"stars:gt:1)", 10, ")"},
		{"bogus:eq:1", 0, "bogus"},
		{"stars:gt:many", 0, "stars:gt:many"},
		{"language:gt:go", 0, "language:gt:go"},
		{"stars:gt:1 OR OR forks:gt:1", 14, "OR"},
		{"()", 1, ")"},
		{"plainword", 0, "plainword"},
		{"visibility:secret", 0, "visibility:secret"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := Compile(tt.src)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSyntax))

			var se *SyntaxError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.pos, se.Pos)
			assert.Equal(t, tt.token, se.Token)
		})
	}
}

func TestUnterminatedQuote(t *testing.T) {
	_, err := Compile(`name:contains:"oops`)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 0, se.Pos)
	assert.Contains(t, se.Msg, "unterminated")
}

func TestMatch(t *testing.T) {
	repo := sampleRepo()
	tests := []struct {
		src  string
		want bool
	}{
		{"stars:gt:1000", true},
		{"stars:lt:1000", false},
		{"stars:eq:45000", true},
		{"language:rust", true},
		{"language:ne:rust", false},
		{"name:contains:grep", true},
		{"owner:burntsushi", true},
		{"topic:cli", true},
		{"topic:ne:cli", false},
		{"topic:contains:reg", true},
		{"topic:web", false},
		{"license:mit", true},
		{"archived:false", true},
		{"archived:ne:false", false},
		{"platform:github", true},
		{"visibility:private", false},
		{"created:eq:2016-03-11", true},
		{"created:gt:2016-03-11", false},
		{"created:le:2016-03-11", true},
		{"created:lt:2016-03-11", false},
		{"created:ge:2016-03-11", true},
		{"updated:gt:2024-01-01T00:00:00Z", true},
		{"language:go OR language:rust", true},
		{"language:go AND stars:gt:1", false},
		{"NOT (language:go OR topic:web)", true},
		{"stars:gt:1 (topic:regex OR topic:web) NOT archived:true", true},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			p, err := Compile(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(repo))
		})
	}
}

func TestMatchMissingTimestamp(t *testing.T) {
	repo := &model.Repository{Name: "x"}
	assert.False(t, MustCompile("pushed:gt:2020-01-01").Match(repo))
	assert.True(t, MustCompile("pushed:ne:2020-01-01").Match(repo))
}

func TestFilterPreservesOrder(t *testing.T) {
	repos := []model.Repository{
		{Name: "a", Stars: 5},
		{Name: "b", Stars: 50},
		{Name: "c", Stars: 500},
	}
	out := MustCompile("stars:ge:50").Filter(repos)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Name)
	assert.Equal(t, "c", out[1].Name)
}

func TestPartition(t *testing.T) {
	caps := Capabilities{
		FieldStars:    {OpGt, OpGe},
		FieldLanguage: {OpEq},
	}

	t.Run("top-level conjuncts", func(t *testing.T) {
		p := MustCompile("stars:gt:10 language:go topic:cli")
		native, residual := p.Partition(caps)
		require.Len(t, native, 2)
		assert.Equal(t, FieldStars, native[0].Field)
		assert.Equal(t, FieldLanguage, native[1].Field)
		assert.Equal(t, "topic:eq:cli", residual.String())
	})

	t.Run("unsupported operator stays local", func(t *testing.T) {
		native, residual := MustCompile("stars:lt:10").Partition(caps)
		assert.Empty(t, native)
		assert.Equal(t, "stars:lt:10", residual.String())
	})

	t.Run("or is never pushed down", func(t *testing.T) {
		native, residual := MustCompile("language:go OR language:rust").Partition(caps)
		assert.Empty(t, native)
		assert.Equal(t, "language:eq:go OR language:eq:rust", residual.String())
	})

	t.Run("fully native", func(t *testing.T) {
		native, residual := MustCompile("stars:gt:10").Partition(caps)
		assert.Len(t, native, 1)
		assert.True(t, residual.IsEmpty())
	})

	t.Run("empty predicate", func(t *testing.T) {
		native, residual := (&Predicate{}).Partition(caps)
		assert.Empty(t, native)
		assert.True(t, residual.IsEmpty())
	})
}

func TestPartitionEquivalence(t *testing.T) {
	// native AND residual must accept exactly what the full predicate accepts
	caps := Capabilities{FieldStars: {OpGt}, FieldLanguage: {OpEq}}
	p := MustCompile("stars:gt:100 language:rust NOT topic:web")
	native, residual := p.Partition(caps)

	repos := []model.Repository{
		{Stars: 200, Language: "Rust", Topics: []string{"cli"}},
		{Stars: 200, Language: "Rust", Topics: []string{"web"}},
		{Stars: 50, Language: "Rust"},
		{Stars: 500, Language: "Go"},
	}
	for i := range repos {
		combined := residual.Match(&repos[i])
		for j := range native {
			combined = combined && native[j].Match(&repos[i])
		}
		assert.Equal(t, p.Match(&repos[i]), combined, "repo %d", i)
	}
}

func TestAtoms(t *testing.T) {
	atoms := MustCompile("stars:gt:1 (language:go OR NOT topic:x)").Atoms()
	require.Len(t, atoms, 3)
	assert.Equal(t, FieldTopic, atoms[2].Field)
	assert.Equal(t, 0, atoms[0].Pos)
}
