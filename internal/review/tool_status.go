package review

import (
	"context"
	"strings"

	"github.com/refereehq/referee/internal/state"
)

func handleStatusUpdate(ctx context.Context, rt *Runtime, args map[string]any) map[string]any {
	rt.RecordTool("status_update")

	row := map[string]string{
		"step":      strings.TrimSpace(argString(args, "step")),
		"completed": strings.TrimSpace(argString(args, "completed")),
		"blocked":   strings.TrimSpace(argString(args, "blocked")),
		"todo":      strings.TrimSpace(argString(args, "todo")),
	}
	rt.statusUpdates = append(rt.statusUpdates, row)

	step := row["step"]
	if step == "" {
		step = "updating"
	}
	_, _ = rt.store.Mutate(rt.JobID, func(job *state.Job) error {
		job.SetMetadata("last_status_update", row)
		job.Message = "Agent progress: " + step
		return nil
	})
	rt.appendEvent("agent_status_update", map[string]any{
		"step":      row["step"],
		"completed": row["completed"],
		"blocked":   row["blocked"],
		"todo":      row["todo"],
	})
	rt.SyncStateUsage()

	return map[string]any{"status": "ok", "status_update": row}
}
