package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/kisohq/kiso/pkg/models"
)

// PendingRecovery identifies a message the previous process accepted but
// never finished.
type PendingRecovery struct {
	Session   string
	MessageID int64
}

// RecoverRunningOnStartup marks every plan and task still in running state as
// failed (the previous process died mid-execution) and returns the trusted,
// unprocessed messages that must be re-enqueued. Called exactly once, before
// any worker is spawned.
func (s *Store) RecoverRunningOnStartup(ctx context.Context) ([]PendingRecovery, error) {
	var plansFailed, tasksFailed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ts := fmtTime(now())
		res, err := tx.ExecContext(ctx,
			`UPDATE plans SET status = ?, updated_at = ? WHERE status = ?`,
			string(models.PlanStatusFailed), ts, string(models.PlanStatusRunning))
		if err != nil {
			return fmt.Errorf("failed to fail running plans: %w", err)
		}
		plansFailed, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx,
			`UPDATE tasks SET status = ?, substatus = '', updated_at = ? WHERE status = ?`,
			string(models.TaskStatusFailed), ts, string(models.TaskStatusRunning))
		if err != nil {
			return fmt.Errorf("failed to fail running tasks: %w", err)
		}
		tasksFailed, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session, id FROM messages
		WHERE trusted = 1 AND processed = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query recoverable messages: %w", err)
	}
	defer rows.Close()

	var pending []PendingRecovery
	for rows.Next() {
		var p PendingRecovery
		if err := rows.Scan(&p.Session, &p.MessageID); err != nil {
			return nil, fmt.Errorf("failed to scan recoverable message: %w", err)
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recoverable messages: %w", err)
	}

	if plansFailed > 0 || tasksFailed > 0 || len(pending) > 0 {
		slog.Info("Startup recovery complete",
			"plans_failed", plansFailed,
			"tasks_failed", tasksFailed,
			"messages_requeued", len(pending))
	}
	return pending, nil
}
