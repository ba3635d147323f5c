package store

import (
	"context"
	"fmt"

	"github.com/kisohq/kiso/pkg/models"
)

// SaveMessage persists a message and returns its id. Untrusted messages are
// stored for audit but never enqueued by the supervisor.
func (s *Store) SaveMessage(ctx context.Context, m models.Message) (int64, error) {
	res, err := s.exec(ctx, `
		INSERT INTO messages (session, user, role, content, trusted, processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.Session, m.User, string(m.Role), m.Content, m.Trusted, m.Processed, fmtTime(now()))
	if err != nil {
		return 0, fmt.Errorf("failed to save message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read message id: %w", err)
	}
	return id, nil
}

// MarkMessageProcessed flips the processed flag.
func (s *Store) MarkMessageProcessed(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `UPDATE messages SET processed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark message processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUnprocessedMessages returns trusted, unprocessed messages in id order.
// Used by startup recovery to re-enqueue work the previous process dropped.
func (s *Store) GetUnprocessedMessages(ctx context.Context) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, user, role, content, trusted, processed, created_at
		FROM messages WHERE trusted = 1 AND processed = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentMessages returns the last limit messages for a session, oldest first.
func (s *Store) RecentMessages(ctx context.Context, session string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, user, role, content, trusted, processed, created_at
		FROM (
			SELECT * FROM messages WHERE session = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentUntrustedMessages returns the last limit untrusted messages for a
// session, oldest first. Their raw content only ever reaches the planner as
// paraphrases.
func (s *Store) RecentUntrustedMessages(ctx context.Context, session string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, user, role, content, trusted, processed, created_at
		FROM (
			SELECT * FROM messages WHERE session = ? AND trusted = 0 ORDER BY id DESC LIMIT ?
		) ORDER BY id`, session, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query untrusted messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MessagesAfter returns up to limit messages with id greater than afterID,
// oldest first. limit <= 0 means no limit.
func (s *Store) MessagesAfter(ctx context.Context, session string, afterID int64, limit int) ([]models.Message, error) {
	q := `
		SELECT id, session, user, role, content, trusted, processed, created_at
		FROM messages WHERE session = ? AND id > ? ORDER BY id`
	args := []any{session, afterID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages after %d: %w", afterID, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// CountMessagesAfter counts session messages with id greater than afterID.
func (s *Store) CountMessagesAfter(ctx context.Context, session string, afterID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session = ? AND id > ?`, session, afterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// GetMessage returns one message by id.
func (s *Store) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, user, role, content, trusted, processed, created_at
		FROM messages WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	defer rows.Close()
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return &msgs[0], nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]models.Message, error) {
	var out []models.Message
	for rows.Next() {
		var m models.Message
		var created string
		if err := rows.Scan(&m.ID, &m.Session, &m.User, &m.Role, &m.Content,
			&m.Trusted, &m.Processed, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return out, nil
}
