package services

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"time"

	"github.com/imyashkale/fleetd/internal/models"
	"github.com/kballard/go-shellquote"
)

// processWaitDelay bounds how long Wait blocks on output pipes after the
// process group has been killed.
const processWaitDelay = 2 * time.Second

// command is one subprocess invocation
type command struct {
	phase   models.Phase
	index   int
	name    string
	argv    []string
	dir     string
	env     []string
	stdin   io.Reader
	display string
}

// run executes cmd in its own process group. When ctx ends the whole group
// is killed. Output from stdout and stderr is interleaved and truncated to
// outputLimit bytes.
func (e *Executor) run(ctx context.Context, cmd command, outputLimit int) models.StepResult {
	display := cmd.display
	if display == "" {
		display = shellquote.Join(cmd.argv...)
	}

	start := e.clock.Now()
	step := models.StepResult{
		Phase:     cmd.phase,
		Index:     cmd.index,
		Name:      cmd.name,
		Command:   display,
		StartedAt: start,
	}

	c := exec.CommandContext(ctx, cmd.argv[0], cmd.argv[1:]...)
	c.Dir = cmd.dir
	c.Env = cmd.env
	c.Stdin = cmd.stdin
	out := newTailBuffer(outputLimit)
	c.Stdout = out
	c.Stderr = out
	configureProcessGroup(c)
	c.WaitDelay = processWaitDelay

	err := c.Run()

	step.Output, step.Truncated = out.String()
	step.DurationMs = e.clock.Now().Sub(start).Milliseconds()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		step.ExitCode = 0
	case ctx.Err() != nil:
		step.ExitCode = -1
		step.Error = "killed: " + ctx.Err().Error()
	case errors.As(err, &exitErr):
		step.ExitCode = exitErr.ExitCode()
		if step.ExitCode < 0 {
			step.Error = exitErr.String()
		}
	default:
		step.ExitCode = -1
		step.Error = err.Error()
	}

	return step
}
