package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/leochame/lavis/internal/skills"
)

// SetSkillEmbedding stores (or replaces) the embedding vector associated
// with a skill, used for best-match skill lookup (spec table §3: "Derived
// tool spec is cached in-memory and mirrored to the persistent store").
func (s *Store) SetSkillEmbedding(ctx context.Context, name string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO skill_embeddings (name, embedding, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET embedding = excluded.embedding, updated_at = CURRENT_TIMESTAMP
	`, name, encodeFloat32Slice(embedding))
	if err != nil {
		return fmt.Errorf("set skill embedding %q: %w", name, err)
	}
	return nil
}

// BestMatchSkills returns the topK skills whose embedding is closest to
// queryEmbedding. Falls back to an empty result (not an error) when
// sqlite-vec is unavailable, since best-match lookup is an optimization, not
// a required path (tool dispatch still works by exact snake_case name).
func (s *Store) BestMatchSkills(ctx context.Context, queryEmbedding []float32, topK int) ([]skills.SkillMatch, error) {
	if !s.vectorExt {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.name, (SELECT vec_distance_cosine(a.embedding, ?)) AS dist
		FROM skill_embeddings a
		ORDER BY dist ASC LIMIT ?
	`, encodeFloat32Slice(queryEmbedding), topK)
	if err != nil {
		return nil, fmt.Errorf("best-match skill search: %w", err)
	}
	defer rows.Close()

	var out []skills.SkillMatch
	for rows.Next() {
		var m skills.SkillMatch
		var dist float64
		if err := rows.Scan(&m.Name, &dist); err != nil {
			return nil, fmt.Errorf("scan skill match: %w", err)
		}
		m.Similarity = 1 - dist
		out = append(out, m)
	}
	return out, rows.Err()
}

func encodeFloat32Slice(vec []float32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}
