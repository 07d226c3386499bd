package registry

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/imyashkale/fleetd/internal/auth"
	"github.com/imyashkale/fleetd/internal/config"
	"github.com/imyashkale/fleetd/internal/models"
)

const baseConfig = `
auth:
  jwt_secret: secret
  webhook_secret: default-secret
server:
  allowed_networks: ["10.1.0.0/16", "10.0.0.0/8", "192.168.1.7", "fd00::/8"]
deploy:
  default_timeout: 5m
  max_timeout: 10m
  deployments:
    - name: api
      type: pull_source
      path: /opt/apps/api
      timeout: 2h
    - name: web
      type: docker_pull
      path: /opt/apps/web
    - name: job
      type: run_script
      script: echo hi
      path: /srv/job
webhooks:
  - path: /webhook/deploy/api
    secret: api-secret
    allowed_ips: ["203.0.113.5"]
    schedule_constraint:
      allowed_hours: [1, 1, 2]
      timezone: UTC
`

func mustBuild(t *testing.T, raw string) *Snapshot {
	t.Helper()
	f, err := config.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	snap, err := Build(f)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return snap
}

func TestBuild(t *testing.T) {
	snap := mustBuild(t, baseConfig)

	api, err := snap.Resolve("api")
	if err != nil {
		t.Fatalf("Resolve(api) error = %v", err)
	}
	if api.Kind() != models.KindPullSource {
		t.Errorf("api kind = %s", api.Kind())
	}
	if api.Timeout != 10*time.Minute {
		t.Errorf("api timeout = %s, want clamp to 10m", api.Timeout)
	}

	web, _ := snap.Resolve("web")
	img, ok := web.Action.(*models.PullImageAction)
	if !ok {
		t.Fatalf("web action = %T", web.Action)
	}
	if img.ComposeFile != filepath.Join("/opt/apps/web", config.DefaultComposeFile) {
		t.Errorf("ComposeFile = %q", img.ComposeFile)
	}
	if web.Timeout != 5*time.Minute {
		t.Errorf("web timeout = %s, want default 5m", web.Timeout)
	}

	job, _ := snap.Resolve("job")
	if job.WorkDir() != "/srv/job" {
		t.Errorf("job workdir = %q", job.WorkDir())
	}

	names := make([]string, 0)
	for _, d := range snap.Definitions() {
		names = append(names, d.Name)
	}
	if strings.Join(names, ",") != "api,job,web" {
		t.Errorf("Definitions() order = %v", names)
	}

	if _, err := snap.Resolve("missing"); !errors.Is(err, ErrDeploymentNotFound) {
		t.Errorf("Resolve(missing) error = %v", err)
	}

	b := snap.Binding("api")
	if b == nil || b.Deployment != "api" {
		t.Fatalf("binding for api = %+v", b)
	}
	if len(b.Schedule.AllowedHours) != 2 {
		t.Errorf("allowed hours should be de-duplicated, got %v", b.Schedule.AllowedHours)
	}
	if len(b.AllowedIPs) != 1 || b.AllowedIPs[0] != netip.MustParsePrefix("203.0.113.5/32") {
		t.Errorf("allowed ips = %v", b.AllowedIPs)
	}
}

func TestBuildMergesNetworks(t *testing.T) {
	snap := mustBuild(t, baseConfig)

	want := map[string]bool{"10.0.0.0/8": true, "192.168.1.7/32": true, "fd00::/8": true}
	if len(snap.Isolation.Prefixes) != len(want) {
		t.Fatalf("prefixes = %v, want %d entries", snap.Isolation.Prefixes, len(want))
	}
	for _, p := range snap.Isolation.Prefixes {
		if !want[p.String()] {
			t.Errorf("unexpected prefix %s", p)
		}
	}
	if !snap.Isolation.Enabled {
		t.Error("isolation should be enabled by default")
	}
}

func TestVerifierSelection(t *testing.T) {
	snap := mustBuild(t, baseConfig)
	body := []byte(`{}`)

	h := http.Header{}
	h.Set(auth.HeaderGitHubSignature, auth.SignHMAC("api-secret", body))
	if err := snap.Verifier("api").Verify(h, body); err != nil {
		t.Errorf("binding secret should verify, got %v", err)
	}

	h.Set(auth.HeaderGitHubSignature, auth.SignHMAC("default-secret", body))
	if err := snap.Verifier("web").Verify(h, body); err != nil {
		t.Errorf("unbound name should use the default secret, got %v", err)
	}
	if err := snap.Verifier("does-not-exist").Verify(h, body); err != nil {
		t.Errorf("unknown name should use the default secret, got %v", err)
	}

	open := mustBuild(t, baseConfig+`
  - path: /webhook/deploy/job
    branch_filter: main
`)
	if v := open.Verifier("job"); v != nil {
		t.Errorf("binding without a secret should skip verification, got %T", v)
	}
	if open.Verifier("web") == nil {
		t.Error("unbound name should still use the default secret")
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "missing jwt secret",
			raw:  "deploy:\n  deployments: []\n",
			want: "auth.jwt_secret",
		},
		{
			name: "duplicate names",
			raw: `auth: {jwt_secret: s}
deploy:
  deployments:
    - {name: a, type: run_script, script: "true"}
    - {name: a, type: run_script, script: "true"}
`,
			want: "duplicate name",
		},
		{
			name: "misspelled provider without secret",
			raw: `auth: {jwt_secret: s}
deploy:
  deployments:
    - {name: a, type: run_script, script: "true"}
webhooks:
  - {path: /webhook/deploy/a, provider: gihub}
`,
			want: "unknown webhook provider",
		},
		{
			name: "unknown type",
			raw: `auth: {jwt_secret: s}
deploy:
  deployments:
    - {name: a, type: rsync}
`,
			want: "unknown type",
		},
		{
			name: "pull_source without path",
			raw: `auth: {jwt_secret: s}
deploy:
  deployments:
    - {name: a, type: pull_source}
`,
			want: "path is required",
		},
		{
			name: "binding for unknown deployment",
			raw: `auth: {jwt_secret: s}
webhooks:
  - {path: /webhook/deploy/ghost}
`,
			want: "unknown deployment",
		},
		{
			name: "bad hour",
			raw: `auth: {jwt_secret: s}
deploy:
  deployments:
    - {name: a, type: run_script, script: "true"}
webhooks:
  - {deployment: a, schedule_constraint: {allowed_hours: [24]}}
`,
			want: "not an hour",
		},
		{
			name: "bad timezone",
			raw: `auth: {jwt_secret: s}
deploy:
  deployments:
    - {name: a, type: run_script, script: "true"}
webhooks:
  - {deployment: a, schedule_constraint: {allowed_hours: [1], timezone: Mars/Olympus}}
`,
			want: "timezone",
		},
		{
			name: "bad network",
			raw:  "auth: {jwt_secret: s}\nserver:\n  allowed_networks: [\"10.0.0.0/33\"]\n",
			want: "allowed_networks",
		},
		{
			name: "unknown mode",
			raw:  "mode: hub\nauth: {jwt_secret: s}\n",
			want: "mode",
		},
		{
			name: "unknown provider",
			raw:  "auth: {jwt_secret: s, webhook_secret: x, webhook_provider: svn}\n",
			want: "webhook_provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := config.Parse([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			_, err = Build(f)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Build() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func writeConfig(t *testing.T, path, raw string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestStoreReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, baseConfig)

	snap, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	store := NewStore(snap, path)
	held := store.Current()

	// Invalid file keeps the old snapshot.
	writeConfig(t, path, "auth: {jwt_secret: \"\"}\n")
	if err := store.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if store.Current() != held {
		t.Error("invalid reload must not replace the snapshot")
	}

	writeConfig(t, path, strings.Replace(baseConfig, "name: job", "name: batch", 1))
	if err := store.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if _, err := store.Current().Resolve("batch"); err != nil {
		t.Errorf("new snapshot should contain batch: %v", err)
	}
	if _, err := held.Resolve("job"); err != nil {
		t.Errorf("held snapshot must stay unchanged: %v", err)
	}
}

func TestStoreWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, baseConfig)

	snap, _, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(snap, path)

	reloaded := make(chan error, 4)
	store.OnReload(func(err error) { reloaded <- err })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, strings.Replace(baseConfig, "name: job", "name: nightly", 1))

	select {
	case err := <-reloaded:
		if err != nil {
			t.Fatalf("reload error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}

	if _, err := store.Current().Resolve("nightly"); err != nil {
		t.Errorf("watched reload not applied: %v", err)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}
