package task

import (
	"context"

	"github.com/kisohq/kiso/pkg/brain"
	"github.com/kisohq/kiso/pkg/models"
	"github.com/kisohq/kiso/pkg/sanitize"
	"github.com/kisohq/kiso/pkg/webhook"
)

// Msg runs a msg task: compose the user-facing reply and deliver it to the
// session webhook when one is registered. Delivery failure never fails the
// task; the message stays available via polling.
func Msg(ctx context.Context, tc *TaskContext, t *models.Task) Result {
	tc.setSubstatus(ctx, t.ID, models.SubstatusComposing)
	text, err := tc.Brain.Compose(ctx, brain.MessengerInput{
		Goal:        tc.Goal,
		Detail:      t.Detail,
		Facts:       tc.Facts,
		Summary:     tc.Summary,
		TaskOutputs: tc.PriorOutputs(),
	})
	if err != nil {
		return *tc.failInfra(t, "messenger", err)
	}
	text = sanitize.Sanitize(text, tc.Secrets)

	if tc.WebhookURL != "" && tc.Hook != nil {
		_ = tc.Hook.Deliver(ctx, tc.WebhookURL, webhook.Payload{
			Session: tc.Session,
			TaskID:  t.ID,
			Type:    string(t.Type),
			Content: text,
			Final:   tc.Final,
		})
	}
	return Result{Success: true, Output: text}
}
