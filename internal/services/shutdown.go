package services

import (
	"context"
	"os"

	"github.com/imyashkale/fleetd/internal/models"
)

// shutdown runs the configured shutdown commands in order and stops at the
// first failure. Without commands, a pull_image deployment whose compose
// file exists is stopped with docker compose down; anything else is a no-op.
func (r *run) shutdown(ctx context.Context) error {
	if len(r.def.Shutdown) > 0 {
		for i, script := range r.def.Shutdown {
			if err := r.hook(ctx, models.PhaseShutdown, i, script); err != nil {
				return err
			}
		}
		return nil
	}

	r.phase, r.index = models.PhaseShutdown, 0
	if a, ok := r.def.Action.(*models.PullImageAction); ok {
		if _, err := os.Stat(a.ComposeFile); err == nil {
			step := r.exec(ctx, command{
				name: "docker compose down",
				argv: []string{"docker", "compose", "-f", a.ComposeFile, "down"},
				dir:  composeDir(a),
			})
			return r.check(ctx, step)
		}
	}

	r.steps.note(models.PhaseShutdown, 0, "shutdown", "no shutdown commands configured", r.executor.clock.Now())
	return nil
}
