package models

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Kind identifies the action strategy of a deployment definition
type Kind string

const (
	KindPullSource Kind = "pull_source"
	KindPullImage  Kind = "pull_image"
	KindRunScript  Kind = "run_script"
)

// ParseKind resolves a configured type name, accepting the legacy aliases
func ParseKind(s string) (Kind, bool) {
	switch s {
	case string(KindPullSource), "git_pull":
		return KindPullSource, true
	case string(KindPullImage), "docker_pull":
		return KindPullImage, true
	case string(KindRunScript), "custom_script":
		return KindRunScript, true
	}
	return "", false
}

// ActionHandler executes one concrete action. Every action kind has a
// method here, so adding a kind breaks every handler until it is covered.
type ActionHandler interface {
	PullSource(ctx context.Context, a *PullSourceAction) error
	PullImage(ctx context.Context, a *PullImageAction) error
	RunScript(ctx context.Context, a *RunScriptAction) error
}

// Action is the main action of a deployment
type Action interface {
	Kind() Kind
	Dispatch(ctx context.Context, h ActionHandler) error
}

// PullSourceAction fast-forwards a git working copy to its remote branch
type PullSourceAction struct {
	Path            string `json:"path"`
	Repo            string `json:"repo,omitempty"`
	Remote          string `json:"remote"`
	Branch          string `json:"branch"`
	SSHKey          string `json:"-"`
	SkipIfUnchanged bool   `json:"skip_if_unchanged,omitempty"`
}

func (a *PullSourceAction) Kind() Kind { return KindPullSource }

func (a *PullSourceAction) Dispatch(ctx context.Context, h ActionHandler) error {
	return h.PullSource(ctx, a)
}

// PullImageAction pulls compose service images
type PullImageAction struct {
	Path         string   `json:"path,omitempty"`
	ComposeFile  string   `json:"compose_file"`
	Services     []string `json:"services,omitempty"`
	Prune        bool     `json:"prune,omitempty"`
	RegistryAuth string   `json:"registry_auth,omitempty"`
}

func (a *PullImageAction) Kind() Kind { return KindPullImage }

func (a *PullImageAction) Dispatch(ctx context.Context, h ActionHandler) error {
	return h.PullImage(ctx, a)
}

// RunScriptAction runs a script file or an inline shell snippet
type RunScriptAction struct {
	Script     string `json:"script"`
	WorkingDir string `json:"working_dir,omitempty"`
	User       string `json:"user,omitempty"`
}

func (a *RunScriptAction) Kind() Kind { return KindRunScript }

func (a *RunScriptAction) Dispatch(ctx context.Context, h ActionHandler) error {
	return h.RunScript(ctx, a)
}

// DeploymentDefinition is an immutable, named unit of deployable work
type DeploymentDefinition struct {
	Name      string
	Action    Action
	Env       map[string]string
	PreHooks  []string
	PostHooks []string
	Shutdown  []string
	Timeout   time.Duration
}

// Kind returns the action kind
func (d *DeploymentDefinition) Kind() Kind {
	return d.Action.Kind()
}

// WorkDir returns the directory hooks run in
func (d *DeploymentDefinition) WorkDir() string {
	switch a := d.Action.(type) {
	case *PullSourceAction:
		return a.Path
	case *PullImageAction:
		return a.Path
	case *RunScriptAction:
		return a.WorkingDir
	}
	return ""
}

// RequiredBranch returns the branch a pull_source deployment tracks
func (d *DeploymentDefinition) RequiredBranch() string {
	if a, ok := d.Action.(*PullSourceAction); ok {
		return a.Branch
	}
	return ""
}

// ActionSummary is the API view of an action. Script bodies are left out and
// credentials are stripped from repository URLs.
type ActionSummary struct {
	Path         string   `json:"path,omitempty"`
	Repo         string   `json:"repo,omitempty"`
	Remote       string   `json:"remote,omitempty"`
	Branch       string   `json:"branch,omitempty"`
	ComposeFile  string   `json:"compose_file,omitempty"`
	Services     []string `json:"services,omitempty"`
	Prune        bool     `json:"prune,omitempty"`
	RegistryAuth string   `json:"registry_auth,omitempty"`
	WorkingDir   string   `json:"working_dir,omitempty"`
	User         string   `json:"user,omitempty"`
}

// DeploymentSummary is the API view of a definition. Secrets are never included.
type DeploymentSummary struct {
	Name         string        `json:"name"`
	Kind         Kind          `json:"kind"`
	Action       ActionSummary `json:"action"`
	EnvKeys      []string      `json:"env_keys,omitempty"`
	PreHooks     int           `json:"pre_hooks"`
	PostHooks    int           `json:"post_hooks"`
	ShutdownCmds int           `json:"shutdown_commands"`
	TimeoutS     int64         `json:"timeout_seconds"`
	Busy         bool          `json:"busy"`
	HasWebhook   bool          `json:"has_webhook"`
}

// Summary returns the API view of d. Environment values are left out.
func (d *DeploymentDefinition) Summary() DeploymentSummary {
	keys := make([]string, 0, len(d.Env))
	for k := range d.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return DeploymentSummary{
		Name:         d.Name,
		Kind:         d.Kind(),
		Action:       summarizeAction(d.Action),
		EnvKeys:      keys,
		PreHooks:     len(d.PreHooks),
		PostHooks:    len(d.PostHooks),
		ShutdownCmds: len(d.Shutdown),
		TimeoutS:     int64(d.Timeout.Seconds()),
	}
}

func summarizeAction(action Action) ActionSummary {
	switch a := action.(type) {
	case *PullSourceAction:
		return ActionSummary{
			Path:   a.Path,
			Repo:   RedactRepo(a.Repo),
			Remote: a.Remote,
			Branch: a.Branch,
		}
	case *PullImageAction:
		return ActionSummary{
			Path:         a.Path,
			ComposeFile:  a.ComposeFile,
			Services:     a.Services,
			Prune:        a.Prune,
			RegistryAuth: a.RegistryAuth,
		}
	case *RunScriptAction:
		return ActionSummary{
			WorkingDir: a.WorkingDir,
			User:       a.User,
		}
	}
	return ActionSummary{}
}

// RedactRepo removes any user and password from a repository URL.
// scp-style git@host:path values carry no password and are kept. A URL that
// does not parse but may hold credentials is replaced entirely.
func RedactRepo(repo string) string {
	u, err := url.Parse(repo)
	if err != nil {
		if strings.Contains(repo, "://") && strings.Contains(repo, "@") {
			return "[redacted]"
		}
		return repo
	}
	if u.Scheme == "" || u.User == nil {
		return repo
	}
	u.User = nil
	return u.String()
}

// DeploymentListResponse represents the response for listing deployments
type DeploymentListResponse struct {
	Deployments []DeploymentSummary `json:"deployments"`
	Total       int                 `json:"total"`
}
