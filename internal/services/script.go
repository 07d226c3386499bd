package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/imyashkale/fleetd/internal/models"
)

// RunScript runs a script file or an inline shell snippet, optionally as
// another user through sudo.
func (r *run) RunScript(ctx context.Context, a *models.RunScriptAction) error {
	dir := a.WorkingDir
	if dir != "" {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return r.fail(ctx, "run script", &os.PathError{Op: "chdir", Path: dir, Err: os.ErrNotExist})
		}
	}

	argv := scriptArgv(a.Script, dir)
	if a.User != "" {
		argv = append([]string{"sudo", "-n", "-u", a.User, "--"}, argv...)
	}

	step := r.exec(ctx, command{
		name: "run script",
		argv: argv,
		dir:  dir,
	})
	return r.check(ctx, step)
}

// scriptArgv decides how to invoke script. A single token naming an
// existing file, or ending in .sh, is treated as a file: executable files
// run directly, others through sh. Anything else is an inline snippet.
func scriptArgv(script, dir string) []string {
	script = strings.TrimSpace(script)
	if strings.ContainsAny(script, " \t\n;|&") {
		return []string{"sh", "-c", script}
	}

	path := script
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0:
		return []string{path}
	case err == nil && info.Mode().IsRegular(), strings.HasSuffix(script, ".sh"):
		return []string{"sh", path}
	default:
		return []string{"sh", "-c", script}
	}
}
