package store

import (
	"context"
	"fmt"

	"github.com/kisohq/kiso/pkg/models"
)

// SaveLearning persists a candidate fact emitted by the reviewer.
func (s *Store) SaveLearning(ctx context.Context, l models.Learning) (int64, error) {
	res, err := s.exec(ctx, `
		INSERT INTO learnings (content, session, user, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		l.Content, l.Session, l.User, string(models.LearningStatusPending), fmtTime(now()))
	if err != nil {
		return 0, fmt.Errorf("failed to save learning: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read learning id: %w", err)
	}
	return id, nil
}

// PendingLearnings returns learnings awaiting curator evaluation, oldest first.
func (s *Store) PendingLearnings(ctx context.Context) ([]models.Learning, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, session, user, status, reason, created_at
		FROM learnings WHERE status = ? ORDER BY id`,
		string(models.LearningStatusPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending learnings: %w", err)
	}
	defer rows.Close()

	var out []models.Learning
	for rows.Next() {
		var l models.Learning
		var created string
		if err := rows.Scan(&l.ID, &l.Content, &l.Session, &l.User, &l.Status,
			&l.Reason, &created); err != nil {
			return nil, fmt.Errorf("failed to scan learning: %w", err)
		}
		l.CreatedAt = parseTime(created)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate learnings: %w", err)
	}
	return out, nil
}

// ResolveLearning records the curator's verdict and reason for a learning.
func (s *Store) ResolveLearning(ctx context.Context, id int64, status models.LearningStatus, reason string) error {
	res, err := s.exec(ctx,
		`UPDATE learnings SET status = ?, reason = ? WHERE id = ?`,
		string(status), reason, id)
	if err != nil {
		return fmt.Errorf("failed to resolve learning: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SavePendingItem persists an open question produced by the curator.
func (s *Store) SavePendingItem(ctx context.Context, p models.PendingItem) (int64, error) {
	res, err := s.exec(ctx, `
		INSERT INTO pending_items (content, scope, source, status, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.Content, p.Scope, p.Source, string(models.PendingStatusOpen), fmtTime(now()))
	if err != nil {
		return 0, fmt.Errorf("failed to save pending item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read pending item id: %w", err)
	}
	return id, nil
}

// OpenPendingItems returns open questions scoped to the session or global.
func (s *Store) OpenPendingItems(ctx context.Context, session string) ([]models.PendingItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, scope, source, status, created_at
		FROM pending_items
		WHERE status = ? AND (scope = 'global' OR scope = ?)
		ORDER BY id`,
		string(models.PendingStatusOpen), session)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending items: %w", err)
	}
	defer rows.Close()

	var out []models.PendingItem
	for rows.Next() {
		var p models.PendingItem
		var created string
		if err := rows.Scan(&p.ID, &p.Content, &p.Scope, &p.Source, &p.Status, &created); err != nil {
			return nil, fmt.Errorf("failed to scan pending item: %w", err)
		}
		p.CreatedAt = parseTime(created)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending items: %w", err)
	}
	return out, nil
}

// ResolvePendingItem marks an open question resolved.
func (s *Store) ResolvePendingItem(ctx context.Context, id int64) error {
	res, err := s.exec(ctx,
		`UPDATE pending_items SET status = ? WHERE id = ?`,
		string(models.PendingStatusResolved), id)
	if err != nil {
		return fmt.Errorf("failed to resolve pending item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
