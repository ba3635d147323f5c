package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kisohq/kiso/pkg/models"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("entity not found")

// CreateOrUpdateSession upserts a session row. Empty fields on update keep
// their stored values, so an implicit create from /msg never clears a webhook
// registered earlier via /sessions.
func (s *Store) CreateOrUpdateSession(ctx context.Context, sess models.Session) error {
	ts := fmtTime(now())
	_, err := s.exec(ctx, `
		INSERT INTO sessions (id, connector, webhook, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			connector   = CASE WHEN excluded.connector   != '' THEN excluded.connector   ELSE sessions.connector   END,
			webhook     = CASE WHEN excluded.webhook     != '' THEN excluded.webhook     ELSE sessions.webhook     END,
			description = CASE WHEN excluded.description != '' THEN excluded.description ELSE sessions.description END,
			updated_at  = excluded.updated_at`,
		sess.ID, sess.Connector, sess.WebhookURL, sess.Description, ts, ts)
	if err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// GetSession returns one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, connector, webhook, description, summary, created_at, updated_at
		FROM sessions WHERE id = ?`, id)

	var sess models.Session
	var created, updated string
	if err := row.Scan(&sess.ID, &sess.Connector, &sess.WebhookURL,
		&sess.Description, &sess.Summary, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	sess.CreatedAt = parseTime(created)
	sess.UpdatedAt = parseTime(updated)
	return &sess, nil
}

// SetSessionSummary overwrites the session's rolling summary and records the
// highest message id the summary covers.
func (s *Store) SetSessionSummary(ctx context.Context, id, summary string, upToMessageID int64) error {
	res, err := s.exec(ctx, `
		UPDATE sessions SET summary = ?, summarized_to = ?, updated_at = ? WHERE id = ?`,
		summary, upToMessageID, fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update session summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SummarizedTo returns the message id the session summary currently covers.
func (s *Store) SummarizedTo(ctx context.Context, id string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT summarized_to FROM sessions WHERE id = ?`, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query summarized_to: %w", err)
	}
	return v, nil
}
