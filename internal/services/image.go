package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/imyashkale/fleetd/internal/logger"
	"github.com/imyashkale/fleetd/internal/models"
)

var ErrRegistryUnavailable = errors.New("registry login is not configured")

// PullImage pulls the images of a compose project. Applying them is left
// to post hooks. Pruning failures are recorded but never fail the action.
func (r *run) PullImage(ctx context.Context, a *models.PullImageAction) error {
	dir := composeDir(a)

	if a.RegistryAuth == "ecr" {
		if err := r.registryLogin(ctx, dir); err != nil {
			return err
		}
	}

	argv := append([]string{"docker", "compose", "-f", a.ComposeFile, "pull"}, a.Services...)
	step := r.exec(ctx, command{name: "docker compose pull", argv: argv, dir: dir})
	if err := r.check(ctx, step); err != nil {
		return err
	}

	if a.Prune {
		r.prune(ctx, dir)
	}
	return nil
}

// composeDir is the directory compose commands run in
func composeDir(a *models.PullImageAction) string {
	if a.Path != "" {
		return a.Path
	}
	return filepath.Dir(a.ComposeFile)
}

func (r *run) registryLogin(ctx context.Context, dir string) error {
	if r.executor.registry == nil {
		return r.fail(ctx, "registry login", ErrRegistryUnavailable)
	}

	creds, err := r.executor.registry.Credentials(ctx)
	if err != nil {
		return r.fail(ctx, "registry login", err)
	}

	step := r.exec(ctx, command{
		name:  "docker login",
		argv:  []string{"docker", "login", "--username", creds.Username, "--password-stdin", creds.Endpoint},
		dir:   dir,
		stdin: strings.NewReader(creds.Password),
	})
	return r.check(ctx, step)
}

func (r *run) prune(ctx context.Context, dir string) {
	if r.executor.images != nil {
		start := r.executor.clock.Now()
		res, err := r.executor.images.PruneDangling(ctx)
		index := r.index
		r.index++

		step := models.StepResult{
			Phase:      models.PhaseAction,
			Index:      index,
			Name:       "image prune",
			Command:    "prune dangling images",
			StartedAt:  start,
			DurationMs: r.executor.clock.Now().Sub(start).Milliseconds(),
		}
		if err != nil {
			step.Output = "warning: " + err.Error()
			logger.WithField("deployment", r.def.Name).Warnf("Image prune failed: %v", err)
		} else {
			step.Output = fmt.Sprintf("deleted %d images, reclaimed %s", res.ImagesDeleted, units.HumanSize(float64(res.SpaceReclaimed)))
		}
		r.steps.add(step)
		return
	}

	step := r.exec(ctx, command{
		name: "docker image prune",
		argv: []string{"docker", "image", "prune", "-f"},
		dir:  dir,
	})
	if !step.Succeeded() {
		logger.WithField("deployment", r.def.Name).Warnf("Image prune exited with code %d", step.ExitCode)
	}
}
