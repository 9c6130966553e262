package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jacklau/reposcout/internal/model"
)

// PutRepository writes a repository entity: its cache entry, its row, and
// its full-text index entry, in one transaction.
func (d *DB) PutRepository(ctx context.Context, repo model.Repository, ttl time.Duration, validator string) error {
	return d.write(ctx, func(tx *sql.Tx, now time.Time) error {
		return putRepository(ctx, tx, &repo, ttl, validator, now)
	})
}

// PutSearch writes a search result payload under key together with every
// repository it contains, in one transaction. A repository whose cached
// entry carries a validator came from a details fetch and is left as is:
// the validator describes that payload, and a search listing must not take
// its place.
func (d *DB) PutSearch(ctx context.Context, key string, payload []byte, ttl time.Duration, repos []model.Repository) error {
	return d.write(ctx, func(tx *sql.Tx, now time.Time) error {
		for i := range repos {
			var validator sql.NullString
			err := tx.QueryRowContext(ctx, `SELECT validator FROM cache_entries WHERE key = ?`, RepoKey(repos[i].Key())).Scan(&validator)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("reading validator: %w", err)
			}
			if validator.String != "" {
				continue
			}
			if err := putRepository(ctx, tx, &repos[i], ttl, "", now); err != nil {
				return err
			}
		}
		return putEntry(ctx, tx, Entry{Key: key, Kind: KindSearch, Payload: payload, TTL: ttl}, now)
	})
}

// GetRepository returns a cached repository and its entry metadata, or
// ErrNotFound. An undecodable payload yields *CorruptionError.
func (d *DB) GetRepository(ctx context.Context, p model.Platform, owner, name string) (*model.Repository, *Entry, error) {
	key := RepoKey(model.IdentityKey(p, owner, name))
	e, err := d.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	var repo model.Repository
	if err := json.Unmarshal(e.Payload, &repo); err != nil {
		return nil, e, &CorruptionError{Key: key, Err: err}
	}
	return &repo, e, nil
}

// ListRepositories returns every cached repository ordered by identity key.
func (d *DB) ListRepositories(ctx context.Context) ([]model.Repository, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+repoColumns+` FROM repositories ORDER BY identity_key`)
	if err != nil {
		return nil, asCorruption("", fmt.Errorf("listing repositories: %w", err))
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

// SearchOffline runs a keyword search over the full-text index of cached
// repositories, best match first. Every whitespace-separated term must
// match as a prefix in name, description or topics.
func (d *DB) SearchOffline(ctx context.Context, text string, limit int) ([]model.Repository, error) {
	match := ftsQuery(text)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+prefixed("r.", repoColumns)+`
		FROM repositories_fts
		JOIN repositories r ON r.id = repositories_fts.rowid
		WHERE repositories_fts MATCH ?
		ORDER BY bm25(repositories_fts), r.stars DESC, r.identity_key
		LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, asCorruption("", fmt.Errorf("searching index: %w", err))
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, asCorruption("", err)
	}
	return repos, nil
}

// CheckIntegrity verifies the full-text index against its content table.
func (d *DB) CheckIntegrity(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO repositories_fts(repositories_fts, rank) VALUES ('integrity-check', 1)`)
	if err != nil {
		return &CorruptionError{Key: "repositories_fts", Err: err}
	}
	return nil
}

// RebuildIndex regenerates the full-text index from the repositories table.
// It is allowed in read-only mode since it never changes cached data.
func (d *DB) RebuildIndex(ctx context.Context) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if _, err := d.db.ExecContext(ctx, `INSERT INTO repositories_fts(repositories_fts) VALUES ('rebuild')`); err != nil {
		return fmt.Errorf("rebuilding full-text index: %w", err)
	}
	d.logger.Info("rebuilt full-text index")
	return nil
}

func putRepository(ctx context.Context, tx *sql.Tx, repo *model.Repository, ttl time.Duration, validator string, now time.Time) error {
	payload, err := json.Marshal(repo)
	if err != nil {
		return fmt.Errorf("encoding repository: %w", err)
	}
	if err := upsertRepositoryRow(ctx, tx, repo); err != nil {
		return err
	}
	return putEntry(ctx, tx, Entry{
		Key:       RepoKey(repo.Key()),
		Kind:      KindRepo,
		Payload:   payload,
		TTL:       ttl,
		Validator: validator,
	}, now)
}

const repoColumns = `platform, owner, name, description, url, homepage, stars, forks, watchers, open_issues,
	language, topics, license, created_at, updated_at, pushed_at, size, default_branch, archived, visibility`

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func upsertRepositoryRow(ctx context.Context, tx *sql.Tx, r *model.Repository) error {
	topics, err := json.Marshal(r.Topics)
	if err != nil {
		return fmt.Errorf("encoding topics: %w", err)
	}
	archived := 0
	if r.Archived {
		archived = 1
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO repositories (identity_key, full_name, topics_text, `+repoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity_key) DO UPDATE SET
			full_name = excluded.full_name,
			topics_text = excluded.topics_text,
			platform = excluded.platform,
			owner = excluded.owner,
			name = excluded.name,
			description = excluded.description,
			url = excluded.url,
			homepage = excluded.homepage,
			stars = excluded.stars,
			forks = excluded.forks,
			watchers = excluded.watchers,
			open_issues = excluded.open_issues,
			language = excluded.language,
			topics = excluded.topics,
			license = excluded.license,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			pushed_at = excluded.pushed_at,
			size = excluded.size,
			default_branch = excluded.default_branch,
			archived = excluded.archived,
			visibility = excluded.visibility`,
		r.Key(), r.FullName(), strings.Join(r.Topics, " "),
		string(r.Platform), r.Owner, r.Name, r.Description, r.URL, nullStr(r.Homepage),
		r.Stars, r.Forks, r.Watchers, r.OpenIssues,
		nullStr(r.Language), string(topics), nullStr(r.License),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt), formatTime(r.PushedAt),
		r.Size, nullStr(r.DefaultBranch), archived, r.Visibility,
	)
	if err != nil {
		return fmt.Errorf("upserting repository %s: %w", r.Key(), err)
	}
	return nil
}

func scanRepository(row rowScanner) (*model.Repository, error) {
	var r model.Repository
	var platform, topics string
	var homepage, language, license, defaultBranch sql.NullString
	var createdAt, updatedAt, pushedAt sql.NullString
	var archived int

	err := row.Scan(
		&platform, &r.Owner, &r.Name, &r.Description, &r.URL, &homepage,
		&r.Stars, &r.Forks, &r.Watchers, &r.OpenIssues,
		&language, &topics, &license, &createdAt, &updatedAt, &pushedAt,
		&r.Size, &defaultBranch, &archived, &r.Visibility,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning repository: %w", err)
	}

	r.Platform = model.Platform(platform)
	r.Homepage = homepage.String
	r.Language = language.String
	r.License = license.String
	r.DefaultBranch = defaultBranch.String
	r.Archived = archived != 0
	if topics != "" && topics != "null" {
		if err := json.Unmarshal([]byte(topics), &r.Topics); err != nil {
			return nil, &CorruptionError{Key: r.Key(), Err: fmt.Errorf("decoding topics: %w", err)}
		}
	}
	for _, f := range []struct {
		dst *time.Time
		src sql.NullString
		col string
	}{
		{&r.CreatedAt, createdAt, "created_at"},
		{&r.UpdatedAt, updatedAt, "updated_at"},
		{&r.PushedAt, pushedAt, "pushed_at"},
	} {
		t, err := parseTime(f.src)
		if err != nil {
			return nil, &CorruptionError{Key: r.Key(), Err: fmt.Errorf("decoding %s: %w", f.col, err)}
		}
		*f.dst = t
	}
	return &r, nil
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s.String)
}

// ftsQuery turns free text into an FTS5 expression of quoted prefix terms,
// so user input can never inject FTS operators.
func ftsQuery(text string) string {
	var terms []string
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool { return !isWordRune(r) }) {
		terms = append(terms, `"`+strings.ToLower(tok)+`"*`)
	}
	return strings.Join(terms, " ")
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 127
}
