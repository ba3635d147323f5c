package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kisohq/kiso/pkg/brain"
	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/sanitize"
)

// Search runs a search task. The query defaults to the task detail; args may
// override it and set bounds. Reviewed like exec; a retry hint refines the
// query for one more attempt per max_worker_retries.
func Search(ctx context.Context, tc *TaskContext, t *models.Task) Result {
	cfg := tc.Config.Current()
	query := parseSearchArgs(t)
	query.Clamp(defaultResults(cfg.Search.MaxResults))
	if query.Lang == "" {
		query.Lang = cfg.Search.Lang
	}
	if query.Country == "" {
		query.Country = cfg.Search.Country
	}

	limits := cfg.Limits
	refined := query
	for attempt := 0; ; attempt++ {
		tc.setSubstatus(ctx, t.ID, models.SubstatusSearching)
		outcome, err := tc.Brain.Search(ctx, refined)
		if err != nil {
			return *tc.failInfra(t, "searcher", err)
		}
		output := sanitize.Sanitize(formatOutcome(outcome), tc.Secrets)

		tc.setSubstatus(ctx, t.ID, models.SubstatusReviewing)
		review, err := tc.Brain.ReviewTask(ctx, brain.ReviewInput{
			Goal:        tc.Goal,
			Detail:      t.Detail,
			Expect:      expect(t),
			Output:      output,
			UserMessage: tc.UserMessage,
		})
		if err != nil {
			return *tc.failInfra(t, "reviewer", err)
		}
		tc.recordReview(ctx, t.ID, review)

		if review.Status == models.ReviewVerdictOK {
			return Result{Success: true, Output: output, Learn: review.Learn}
		}
		if review.RetryHint != "" && attempt < limits.MaxWorkerRetries {
			refined = query
			refined.Query = query.Query + " (" + review.RetryHint + ")"
			slog.Info("Retrying search task with refined query",
				"session", tc.Session, "task_id", t.ID, "attempt", attempt+1)
			continue
		}
		return Result{Output: output, ReplanReason: review.Reason, Learn: review.Learn}
	}
}

// parseSearchArgs decodes the task args; malformed JSON falls back to
// defaults rather than failing the task.
func parseSearchArgs(t *models.Task) brain.SearchQuery {
	var q brain.SearchQuery
	raw := strings.TrimSpace(t.Args)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			slog.Warn("Malformed search args, using defaults",
				"session", t.Session, "task_id", t.ID, "error", err)
			q = brain.SearchQuery{}
		}
	}
	if q.Query == "" {
		q.Query = t.Detail
	}
	return q
}

func defaultResults(configured int) int {
	if configured > 0 {
		return configured
	}
	return 10
}

func formatOutcome(o *brain.SearchOutcome) string {
	var b strings.Builder
	b.WriteString(o.Summary)
	for i, r := range o.Results {
		fmt.Fprintf(&b, "\n%d. %s — %s\n   %s", i+1, r.Title, r.URL, r.Snippet)
	}
	if len(o.Sources) > 0 {
		b.WriteString("\nSources: " + strings.Join(o.Sources, ", "))
	}
	return b.String()
}
