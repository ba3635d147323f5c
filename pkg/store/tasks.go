package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kisohq/kiso/pkg/models"
)

// CreateTask persists a task in pending state and returns its id.
func (s *Store) CreateTask(ctx context.Context, t models.Task) (int64, error) {
	ts := fmtTime(now())
	res, err := s.exec(ctx, `
		INSERT INTO tasks (plan_id, session, type, detail, skill, args, expect, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.PlanID, t.Session, string(t.Type), t.Detail, t.Skill, t.Args, t.Expect,
		string(models.TaskStatusPending), ts, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to create task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read task id: %w", err)
	}
	return id, nil
}

// UpdateTask transitions a task's status and records output and stderr.
// Callers sanitize output before passing it here.
func (s *Store) UpdateTask(ctx context.Context, id int64, status models.TaskStatus, output, stderr string) error {
	res, err := s.exec(ctx, `
		UPDATE tasks SET status = ?, output = ?, stderr = ?, substatus = '', updated_at = ?
		WHERE id = ?`,
		string(status), output, stderr, fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTaskStatus transitions a task without touching output.
func (s *Store) UpdateTaskStatus(ctx context.Context, id int64, status models.TaskStatus) error {
	res, err := s.exec(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTaskSubstatus sets the free-form phase label on a running task.
func (s *Store) UpdateTaskSubstatus(ctx context.Context, id int64, substatus string) error {
	_, err := s.exec(ctx,
		`UPDATE tasks SET substatus = ?, updated_at = ? WHERE id = ?`,
		substatus, fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update task substatus: %w", err)
	}
	return nil
}

// UpdateTaskUsage adds token totals to a task.
func (s *Store) UpdateTaskUsage(ctx context.Context, id int64, promptTokens, completionTokens int64) error {
	_, err := s.exec(ctx, `
		UPDATE tasks SET prompt_tokens = prompt_tokens + ?,
			completion_tokens = completion_tokens + ?, updated_at = ?
		WHERE id = ?`,
		promptTokens, completionTokens, fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update task usage: %w", err)
	}
	return nil
}

// UpdateTaskReview records the reviewer's verdict for a task.
func (s *Store) UpdateTaskReview(ctx context.Context, id int64, verdict models.ReviewVerdict, reason, learning string) error {
	res, err := s.exec(ctx, `
		UPDATE tasks SET review_verdict = ?, review_reason = ?, review_learning = ?, updated_at = ?
		WHERE id = ?`,
		string(verdict), reason, learning, fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update task review: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTaskLLMCall appends one per-call audit record to the task's llm_calls
// JSON array.
func (s *Store) AppendTaskLLMCall(ctx context.Context, id int64, record string) error {
	// json_insert with '$[#]' appends to the array; seed an empty array first.
	_, err := s.exec(ctx, `
		UPDATE tasks SET llm_calls = json_insert(
			CASE WHEN llm_calls = '' THEN '[]' ELSE llm_calls END, '$[#]', json(?)),
			updated_at = ?
		WHERE id = ?`,
		record, fmtTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to append task llm call: %w", err)
	}
	return nil
}

// CancelPendingTasks marks every pending task of a plan cancelled and returns
// how many were flipped.
func (s *Store) CancelPendingTasks(ctx context.Context, planID int64) (int64, error) {
	res, err := s.exec(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE plan_id = ? AND status = ?`,
		string(models.TaskStatusCancelled), fmtTime(now()), planID, string(models.TaskStatusPending))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// TasksForPlan returns a plan's tasks in index order.
func (s *Store) TasksForPlan(ctx context.Context, planID int64) ([]models.Task, error) {
	return s.queryTasks(ctx, `WHERE plan_id = ? ORDER BY id`, planID)
}

// TasksAfter returns session tasks with id greater than afterID, oldest
// first. Backs GET /status.
func (s *Store) TasksAfter(ctx context.Context, session string, afterID int64) ([]models.Task, error) {
	return s.queryTasks(ctx, `WHERE session = ? AND id > ? ORDER BY id`, session, afterID)
}

// MsgOutputsAfterMessage returns the outputs of delivered msg tasks whose
// plan belongs to a message newer than afterMessageID, oldest first. Feeds
// the planner context and session summarization.
func (s *Store) MsgOutputsAfterMessage(ctx context.Context, session string, afterMessageID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.output FROM tasks t
		JOIN plans p ON p.id = t.plan_id
		WHERE t.session = ? AND t.type = 'msg' AND t.status = 'done' AND p.message_id > ?
		ORDER BY t.id`, session, afterMessageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query msg outputs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, fmt.Errorf("failed to scan msg output: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate msg outputs: %w", err)
	}
	return out, nil
}

// GetTask returns one task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	tasks, err := s.queryTasks(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, ErrNotFound
	}
	return &tasks[0], nil
}

func (s *Store) queryTasks(ctx context.Context, where string, args ...any) ([]models.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, session, type, detail, skill, args, expect, status,
			output, stderr, substatus, review_verdict, review_reason, review_learning,
			prompt_tokens, completion_tokens, llm_calls, created_at, updated_at
		FROM tasks `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		var t models.Task
		var verdict sql.NullString
		var created, updated string
		if err := rows.Scan(&t.ID, &t.PlanID, &t.Session, &t.Type, &t.Detail,
			&t.Skill, &t.Args, &t.Expect, &t.Status, &t.Output, &t.Stderr,
			&t.Substatus, &verdict, &t.ReviewReason, &t.ReviewLearn,
			&t.PromptTokens, &t.CompletionTok, &t.LLMCalls, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if verdict.Valid {
			t.ReviewVerdict = models.ReviewVerdict(verdict.String)
		}
		t.CreatedAt = parseTime(created)
		t.UpdatedAt = parseTime(updated)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return out, nil
}
