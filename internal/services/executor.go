package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/imyashkale/fleetd/internal/logger"
	"github.com/imyashkale/fleetd/internal/models"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
)

// Limits bound a single execution
type Limits struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	OutputLimit    int
}

// RegistryLogin supplies container registry credentials
type RegistryLogin interface {
	Credentials(ctx context.Context) (*RegistryCredentials, error)
}

// ImagePruner removes dangling images
type ImagePruner interface {
	PruneDangling(ctx context.Context) (*PruneResult, error)
}

// Executor runs deployment definitions: pre hooks, the main action, then
// post hooks, all under one deadline.
type Executor struct {
	clock    clock.Clock
	registry RegistryLogin
	images   ImagePruner
}

// NewExecutor creates an executor. registry and images may be nil.
func NewExecutor(clk clock.Clock, registry RegistryLogin, images ImagePruner) *Executor {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Executor{
		clock:    clk,
		registry: registry,
		images:   images,
	}
}

// EffectiveTimeout returns the deadline applied to def
func EffectiveTimeout(def *models.DeploymentDefinition, limits Limits) time.Duration {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = limits.DefaultTimeout
	}
	if limits.MaxTimeout > 0 && timeout > limits.MaxTimeout {
		timeout = limits.MaxTimeout
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return timeout
}

// Execute runs def and records every step on rec. The record must be fresh;
// it is moved to Running and then to exactly one terminal status. The
// returned error is nil on success, a *StepError on failure, and matches
// ErrExecutionTimedOut when the deadline was hit.
func (e *Executor) Execute(ctx context.Context, def *models.DeploymentDefinition, rec *models.ExecutionRecord, limits Limits) error {
	rec.Operation = models.OperationDeploy
	return e.perform(ctx, def, rec, limits, func(ctx context.Context, r *run) error {
		if err := r.prepareWorkDir(ctx); err != nil {
			return err
		}

		for i, hook := range def.PreHooks {
			if err := r.hook(ctx, models.PhasePreHook, i, hook); err != nil {
				return err
			}
		}

		r.phase, r.index = models.PhaseAction, 0
		if err := def.Action.Dispatch(ctx, r); err != nil {
			return err
		}
		r.actionDone = true

		if r.skipPostHooks {
			if len(def.PostHooks) > 0 {
				r.steps.note(models.PhasePostHook, 0, "post_hooks", "skipped: source unchanged", e.clock.Now())
			}
			return nil
		}

		for i, hook := range def.PostHooks {
			if err := r.hook(ctx, models.PhasePostHook, i, hook); err != nil {
				return err
			}
		}
		return nil
	})
}

// Shutdown stops def with the same deadline and record handling as Execute.
// Hooks and the main action are not run.
func (e *Executor) Shutdown(ctx context.Context, def *models.DeploymentDefinition, rec *models.ExecutionRecord, limits Limits) error {
	rec.Operation = models.OperationShutdown
	return e.perform(ctx, def, rec, limits, func(ctx context.Context, r *run) error {
		return r.shutdown(ctx)
	})
}

// perform moves rec to Running, runs body under the deadline of def and
// finalizes rec from the returned error. Panics in body fail the record.
func (e *Executor) perform(ctx context.Context, def *models.DeploymentDefinition, rec *models.ExecutionRecord, limits Limits, body func(ctx context.Context, r *run) error) (err error) {
	timeout := EffectiveTimeout(def, limits)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rec.Kind = def.Kind()
	rec.Start(e.clock.Now())

	r := &run{
		executor:    e,
		def:         def,
		rec:         rec,
		steps:       newStepRecorder(rec),
		env:         buildEnv(def.Env),
		outputLimit: limits.OutputLimit,
	}

	log := logger.WithFields(logrus.Fields{
		"deployment":   def.Name,
		"execution_id": rec.ID,
		"operation":    rec.Operation,
		"kind":         def.Kind(),
		"timeout":      timeout.String(),
	})
	log.Info("Execution started")

	defer func() {
		if p := recover(); p != nil {
			err = &StepError{
				Phase:           r.phase,
				Index:           r.index,
				ExitCode:        -1,
				ActionSucceeded: r.actionDone,
				Err:             fmt.Errorf("panic: %v", p),
			}
		}
		e.finish(rec, err)

		entry := log.WithFields(logrus.Fields{
			"status":      rec.Status,
			"duration_ms": rec.DurationMs,
		})
		if err != nil {
			entry.WithField("error", err.Error()).Warn("Execution finished with failure")
		} else {
			entry.Info("Execution finished")
		}
	}()

	return body(ctx, r)
}

func (e *Executor) finish(rec *models.ExecutionRecord, err error) {
	now := e.clock.Now()

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		rec.Failure = stepErr.Failure()
	}

	switch {
	case err == nil:
		rec.Finish(models.StatusSucceeded, "", now)
	case errors.Is(err, ErrExecutionTimedOut):
		rec.Finish(models.StatusTimedOut, models.CodeExecutionTimedOut, now)
	case errors.Is(err, ErrExecutionCancelled):
		rec.Finish(models.StatusFailed, models.CodeExecutionCancelled, now)
	case stepErr != nil:
		rec.Finish(models.StatusFailed, stepErr.Code(), now)
	default:
		rec.Finish(models.StatusFailed, models.CodeActionFailed, now)
	}
}

// run is the state of one execution. It implements models.ActionHandler.
type run struct {
	executor    *Executor
	def         *models.DeploymentDefinition
	rec         *models.ExecutionRecord
	steps       *stepRecorder
	env         []string
	outputLimit int

	phase         models.Phase
	index         int
	actionDone    bool
	skipPostHooks bool
}

var _ models.ActionHandler = (*run)(nil)

// hook runs one shell hook in the deployment working directory
func (r *run) hook(ctx context.Context, phase models.Phase, index int, script string) error {
	r.phase, r.index = phase, index
	step := r.exec(ctx, command{
		name:    fmt.Sprintf("%s[%d]", phase, index),
		argv:    []string{"sh", "-c", script},
		dir:     r.workDir(),
		display: script,
	})
	return r.check(ctx, step)
}

// exec runs an action or hook subprocess and records its result
func (r *run) exec(ctx context.Context, cmd command) models.StepResult {
	cmd.phase = r.phase
	if r.phase == models.PhaseAction {
		cmd.index = r.index
		r.index++
	} else {
		cmd.index = r.index
	}
	if cmd.env == nil {
		cmd.env = r.env
	}

	if err := ctx.Err(); err != nil {
		step := models.StepResult{
			Phase:     cmd.phase,
			Index:     cmd.index,
			Name:      cmd.name,
			Command:   cmd.display,
			ExitCode:  -1,
			StartedAt: r.executor.clock.Now(),
			Error:     "not started: " + err.Error(),
		}
		r.steps.add(step)
		return step
	}

	step := r.executor.run(ctx, cmd, r.outputLimit)
	r.steps.add(step)
	return step
}

// check converts a step result into the execution error, if any
func (r *run) check(ctx context.Context, step models.StepResult) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &StepError{
			Phase:           step.Phase,
			Index:           step.Index,
			ExitCode:        step.ExitCode,
			ActionSucceeded: r.actionDone,
			Err:             interruption(ctxErr),
		}
	}
	if step.Succeeded() {
		return nil
	}

	cause := fmt.Errorf("%s exited with code %d", step.Name, step.ExitCode)
	if step.Error != "" {
		cause = fmt.Errorf("%s: %s", step.Name, step.Error)
	}
	return &StepError{
		Phase:           step.Phase,
		Index:           step.Index,
		ExitCode:        step.ExitCode,
		ActionSucceeded: r.actionDone,
		Err:             cause,
	}
}

// fail records a failed action step that did not come from a subprocess
func (r *run) fail(ctx context.Context, name string, cause error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		cause = interruption(ctxErr)
	}
	index := r.index
	r.index++
	r.steps.add(models.StepResult{
		Phase:     models.PhaseAction,
		Index:     index,
		Name:      name,
		ExitCode:  -1,
		StartedAt: r.executor.clock.Now(),
		Error:     cause.Error(),
	})
	return &StepError{Phase: models.PhaseAction, Index: index, ExitCode: -1, Err: cause}
}

// prepareWorkDir creates the deployment directory before the first step.
// Hooks must never run in the server's own directory, so a path that cannot
// be created, or is not a directory, fails the run here.
func (r *run) prepareWorkDir(ctx context.Context) error {
	dir := r.def.WorkDir()
	if dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return r.fail(ctx, "prepare", fmt.Errorf("%s is not a directory", dir))
	case !errors.Is(err, os.ErrNotExist):
		return r.fail(ctx, "prepare", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return r.fail(ctx, "prepare", fmt.Errorf("failed to create %s: %w", dir, err))
	}
	logger.WithFields(logrus.Fields{
		"deployment": r.def.Name,
		"path":       dir,
	}).Info("Created deployment directory")
	return nil
}

func (r *run) workDir() string {
	return r.def.WorkDir()
}

func interruption(ctxErr error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return ErrExecutionTimedOut
	}
	return ErrExecutionCancelled
}

// buildEnv layers the deployment environment over the process environment.
// Keys are applied in sorted order so the result is deterministic.
func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
