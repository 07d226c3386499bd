package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/imyashkale/fleetd/internal/models"
	"github.com/kballard/go-shellquote"
)

var ErrDirtyWorkTree = errors.New("working tree has local modifications")

// PullSource brings a working copy up to date with its remote branch.
// Only fast-forward updates are applied; local edits or divergent history
// fail the action. A missing working copy is cloned when a repo is set.
func (r *run) PullSource(ctx context.Context, a *models.PullSourceAction) error {
	env := gitEnv(r.env, a.SSHKey)

	if _, err := os.Stat(filepath.Join(a.Path, ".git")); errors.Is(err, os.ErrNotExist) {
		return r.cloneSource(ctx, a, env)
	}

	before, err := r.revParse(ctx, a.Path, env, "HEAD")
	if err != nil {
		return err
	}

	if err := r.git(ctx, a.Path, env, []string{"git", "fetch", "--prune", a.Remote, a.Branch}); err != nil {
		return err
	}

	status := r.exec(ctx, command{
		name: "git status",
		argv: []string{"git", "status", "--porcelain", "--untracked-files=no"},
		dir:  a.Path,
		env:  env,
	})
	if err := r.check(ctx, status); err != nil {
		return err
	}
	if strings.TrimSpace(status.Output) != "" {
		return r.fail(ctx, "git status", ErrDirtyWorkTree)
	}

	current, err := r.revParse(ctx, a.Path, env, "--abbrev-ref", "HEAD")
	if err != nil {
		return err
	}
	if current != a.Branch {
		if err := r.git(ctx, a.Path, env, []string{"git", "checkout", a.Branch}); err != nil {
			return err
		}
	}

	if err := r.git(ctx, a.Path, env, []string{"git", "merge", "--ff-only", a.Remote + "/" + a.Branch}); err != nil {
		return err
	}

	after, err := r.revParse(ctx, a.Path, env, "HEAD")
	if err != nil {
		return err
	}

	changed := before != after
	r.rec.CommitFrom = before
	r.rec.CommitTo = after
	r.rec.Changed = &changed
	if !changed && a.SkipIfUnchanged {
		r.skipPostHooks = true
	}
	return nil
}

func (r *run) cloneSource(ctx context.Context, a *models.PullSourceAction, env []string) error {
	if a.Repo == "" {
		return r.fail(ctx, "git clone", fmt.Errorf("%s is not a git working copy and no repo is configured", a.Path))
	}

	parent := filepath.Dir(a.Path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return r.fail(ctx, "git clone", fmt.Errorf("failed to create %s: %w", parent, err))
	}

	argv := []string{"git", "clone", "--branch", a.Branch, "--origin", a.Remote, a.Repo, a.Path}
	if err := r.git(ctx, parent, env, argv); err != nil {
		return err
	}

	after, err := r.revParse(ctx, a.Path, env, "HEAD")
	if err != nil {
		return err
	}
	changed := true
	r.rec.CommitTo = after
	r.rec.Changed = &changed
	return nil
}

func (r *run) git(ctx context.Context, dir string, env, argv []string) error {
	step := r.exec(ctx, command{
		name: strings.Join(argv[:2], " "),
		argv: argv,
		dir:  dir,
		env:  env,
	})
	return r.check(ctx, step)
}

func (r *run) revParse(ctx context.Context, dir string, env []string, args ...string) (string, error) {
	step := r.exec(ctx, command{
		name: "git rev-parse",
		argv: append([]string{"git", "rev-parse"}, args...),
		dir:  dir,
		env:  env,
	})
	if err := r.check(ctx, step); err != nil {
		return "", err
	}
	return strings.TrimSpace(step.Output), nil
}

// gitEnv disables interactive prompts and pins the deploy key when set
func gitEnv(base []string, sshKey string) []string {
	env := append(append([]string(nil), base...), "GIT_TERMINAL_PROMPT=0")
	if sshKey != "" {
		env = append(env, "GIT_SSH_COMMAND="+shellquote.Join(
			"ssh", "-i", sshKey,
			"-o", "IdentitiesOnly=yes",
			"-o", "BatchMode=yes",
			"-o", "StrictHostKeyChecking=accept-new",
		))
	}
	return env
}
