package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kisohq/kiso/pkg/models"
)

// KeepLLMCalls is the sentinel passed to UpdatePlanUsage when the caller
// wants to refresh token totals without overwriting the stored per-call
// audit records.
const KeepLLMCalls = "\x00KEEP"

// CreatePlan persists a new plan in running state and returns its id.
func (s *Store) CreatePlan(ctx context.Context, p models.Plan) (int64, error) {
	ts := fmtTime(now())
	res, err := s.exec(ctx, `
		INSERT INTO plans (session, message_id, parent_id, goal, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Session, p.MessageID, p.ParentID, p.Goal, string(models.PlanStatusRunning), ts, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to create plan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read plan id: %w", err)
	}
	return id, nil
}

// UpdatePlanStatus transitions a plan. Status is monotonic except that
// running plans may become cancelled at any point between tasks.
func (s *Store) UpdatePlanStatus(ctx context.Context, id int64, status models.PlanStatus) error {
	res, err := s.exec(ctx,
		`UPDATE plans SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePlanUsage adds token totals and replaces the per-call audit records
// unless llmCalls is the KeepLLMCalls sentinel, in which case the stored
// records are preserved.
func (s *Store) UpdatePlanUsage(ctx context.Context, id int64, promptTokens, completionTokens int64, llmCalls string) error {
	var res sql.Result
	var err error
	if llmCalls == KeepLLMCalls {
		res, err = s.exec(ctx, `
			UPDATE plans SET prompt_tokens = prompt_tokens + ?,
				completion_tokens = completion_tokens + ?, updated_at = ?
			WHERE id = ?`,
			promptTokens, completionTokens, fmtTime(now()), id)
	} else {
		res, err = s.exec(ctx, `
			UPDATE plans SET prompt_tokens = prompt_tokens + ?,
				completion_tokens = completion_tokens + ?, llm_calls = ?, updated_at = ?
			WHERE id = ?`,
			promptTokens, completionTokens, llmCalls, fmtTime(now()), id)
	}
	if err != nil {
		return fmt.Errorf("failed to update plan usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPlan returns one plan by id.
func (s *Store) GetPlan(ctx context.Context, id int64) (*models.Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session, message_id, parent_id, goal, status,
			prompt_tokens, completion_tokens, llm_calls, created_at, updated_at
		FROM plans WHERE id = ?`, id)
	return scanPlan(row)
}

// LatestPlan returns the most recent plan for a session, or ErrNotFound.
func (s *Store) LatestPlan(ctx context.Context, session string) (*models.Plan, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session, message_id, parent_id, goal, status,
			prompt_tokens, completion_tokens, llm_calls, created_at, updated_at
		FROM plans WHERE session = ? ORDER BY id DESC LIMIT 1`, session)
	return scanPlan(row)
}

// PlansForMessage returns all plans derived from a message, oldest first.
// Replan children appear after their parents.
func (s *Store) PlansForMessage(ctx context.Context, messageID int64) ([]models.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session, message_id, parent_id, goal, status,
			prompt_tokens, completion_tokens, llm_calls, created_at, updated_at
		FROM plans WHERE message_id = ? ORDER BY id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var out []models.Plan
	for rows.Next() {
		p, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return out, nil
}

type planScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row *sql.Row) (*models.Plan, error) {
	p, err := scanPlanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

func scanPlanRow(sc planScanner) (*models.Plan, error) {
	var p models.Plan
	var created, updated string
	if err := sc.Scan(&p.ID, &p.Session, &p.MessageID, &p.ParentID, &p.Goal,
		&p.Status, &p.PromptTokens, &p.CompletionTokens, &p.LLMCalls,
		&created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan plan: %w", err)
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}
