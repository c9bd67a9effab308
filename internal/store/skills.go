package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/leochame/lavis/internal/skills"
)

// UpsertSkill implements skills.Store. Name uniqueness is case-insensitive
// (spec §3: "name is unique case-insensitively"), so the upsert key is the
// lowercased name, not the display name.
func (s *Store) UpsertSkill(ctx context.Context, sk *skills.Skill) error {
	paramsJSON, err := json.Marshal(sk.Parameters)
	if err != nil {
		return fmt.Errorf("marshal skill parameters: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO skills (name, name_lower, description, category, version, author, command, parameters_json, body, path, use_count, last_used_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name_lower) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			version = excluded.version,
			author = excluded.author,
			command = excluded.command,
			parameters_json = excluded.parameters_json,
			body = excluded.body,
			path = excluded.path,
			use_count = excluded.use_count,
			last_used_at = excluded.last_used_at,
			updated_at = CURRENT_TIMESTAMP
	`,
		sk.Name, strings.ToLower(sk.Name), sk.Description, sk.Category, sk.Version, sk.Author,
		sk.Command, string(paramsJSON), sk.Body, sk.Path, sk.UseCount, timeOrNil(sk.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert skill %q: %w", sk.Name, err)
	}
	return nil
}

// TouchSkillUsage implements skills.Store: increments useCount and sets
// lastUsedAt, looked up case-insensitively by name.
func (s *Store) TouchSkillUsage(ctx context.Context, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE skills SET use_count = use_count + 1, last_used_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE name_lower = ?
	`, at, strings.ToLower(name))
	if err != nil {
		return fmt.Errorf("touch skill usage %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("touch skill usage: skill %q not found", name)
	}
	return nil
}

// ListSkills returns every persisted skill, optionally filtered by category
// (empty matches all).
func (s *Store) ListSkills(ctx context.Context, category string) ([]*skills.Skill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT name, description, category, version, author, command, parameters_json, body, path, use_count, last_used_at FROM skills`
	args := []any{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []*skills.Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSkill(row rowScanner) (*skills.Skill, error) {
	var sk skills.Skill
	var paramsJSON string
	var lastUsed sql.NullTime
	if err := row.Scan(&sk.Name, &sk.Description, &sk.Category, &sk.Version, &sk.Author,
		&sk.Command, &paramsJSON, &sk.Body, &sk.Path, &sk.UseCount, &lastUsed); err != nil {
		return nil, fmt.Errorf("scan skill row: %w", err)
	}
	if paramsJSON != "" {
		if err := json.Unmarshal([]byte(paramsJSON), &sk.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal skill parameters: %w", err)
		}
	}
	sk.LastUsedAt = nullTimeToTime(lastUsed)
	return &sk, nil
}
