package store

import (
	"context"
	"fmt"
	"time"
)

// SessionMessage is one row of session_messages (spec §4.13).
type SessionMessage struct {
	SessionID  string
	TurnID     string
	Position   int
	Role       string
	Content    string
	HasImage   bool
	TokenCount int
	CreatedAt  time.Time
}

// EnsureSession creates the session row if it doesn't already exist.
func (s *Store) EnsureSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id) VALUES (?)
		ON CONFLICT(id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
	`, sessionID)
	if err != nil {
		return fmt.Errorf("ensure session %q: %w", sessionID, err)
	}
	return nil
}

// AppendMessage persists one session message, creating the parent session
// row if needed.
func (s *Store) AppendMessage(ctx context.Context, m SessionMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append message tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id) VALUES (?)
		ON CONFLICT(id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
	`, m.SessionID); err != nil {
		return fmt.Errorf("ensure session %q: %w", m.SessionID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO session_messages (session_id, turn_id, position, role, content, has_image, token_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.SessionID, m.TurnID, m.Position, m.Role, m.Content, m.HasImage, m.TokenCount); err != nil {
		return fmt.Errorf("append message to session %q: %w", m.SessionID, err)
	}

	return tx.Commit()
}

// ListMessages returns a session's messages ordered by turn then position.
// An empty turnID lists every turn in the session.
func (s *Store) ListMessages(ctx context.Context, sessionID, turnID string) ([]SessionMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT session_id, turn_id, position, role, content, has_image, token_count, created_at
		FROM session_messages WHERE session_id = ?`
	args := []any{sessionID}
	if turnID != "" {
		query += ` AND turn_id = ?`
		args = append(args, turnID)
	}
	query += ` ORDER BY turn_id, position`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages for session %q: %w", sessionID, err)
	}
	defer rows.Close()

	var out []SessionMessage
	for rows.Next() {
		var m SessionMessage
		if err := rows.Scan(&m.SessionID, &m.TurnID, &m.Position, &m.Role, &m.Content, &m.HasImage, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMessages returns the number of messages recorded for a session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_messages WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages for session %q: %w", sessionID, err)
	}
	return count, nil
}

// DeleteSession removes a session and all of its messages (cascades via the
// session_messages foreign key).
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %q: %w", sessionID, err)
	}
	return nil
}
