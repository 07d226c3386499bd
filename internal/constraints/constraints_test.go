package constraints

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/imyashkale/fleetd/internal/models"
)

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Skipf("timezone data for %s unavailable: %v", name, err)
	}
	return loc
}

func TestCheckAccessIP(t *testing.T) {
	b := &models.WebhookBinding{
		AllowedIPs: []netip.Prefix{
			netip.MustParsePrefix("192.0.2.0/24"),
			netip.MustParsePrefix("2001:db8::/32"),
		},
	}
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		peer    string
		wantErr bool
	}{
		{name: "inside v4 range", peer: "192.0.2.10"},
		{name: "v4 mapped v6", peer: "::ffff:192.0.2.10"},
		{name: "inside v6 range", peer: "2001:db8::1"},
		{name: "outside", peer: "198.51.100.7", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAccess(b, netip.MustParseAddr(tt.peer), now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckAccess() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var v *Violation
			if !errors.As(err, &v) || v.Reason != ReasonIPNotAllowed {
				t.Errorf("expected ip_not_allowed violation, got %v", err)
			}
			if !errors.Is(err, ErrConstraintViolated) {
				t.Error("violation should match ErrConstraintViolated")
			}
		})
	}

	if err := CheckAccess(b, netip.Addr{}, now); err == nil {
		t.Error("invalid peer address must not pass the allow-list")
	}
	if err := CheckAccess(nil, netip.MustParseAddr("198.51.100.7"), now); err != nil {
		t.Errorf("nil binding should impose nothing, got %v", err)
	}
}

func TestCheckAccessSchedule(t *testing.T) {
	berlin := mustLocation(t, "Europe/Berlin")
	b := &models.WebhookBinding{
		Schedule: &models.ScheduleConstraint{AllowedHours: []int{9, 10, 11}, Location: berlin},
	}

	tests := []struct {
		name    string
		now     time.Time
		wantErr bool
	}{
		// 08:30 UTC in January is 09:30 in Berlin.
		{name: "inside window in zone", now: time.Date(2026, 1, 15, 8, 30, 0, 0, time.UTC)},
		// 11:30 UTC is 12:30 in Berlin.
		{name: "outside window in zone", now: time.Date(2026, 1, 15, 11, 30, 0, 0, time.UTC), wantErr: true},
		{name: "night", now: time.Date(2026, 1, 15, 2, 0, 0, 0, time.UTC), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckAccess(b, netip.MustParseAddr("10.0.0.1"), tt.now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckAccess() error = %v, wantErr %v", err, tt.wantErr)
			}
			var v *Violation
			if err != nil && (!errors.As(err, &v) || v.Reason != ReasonOutsideSchedule) {
				t.Errorf("expected outside_schedule, got %v", err)
			}
		})
	}
}

func TestCheckAccessIPBeforeSchedule(t *testing.T) {
	b := &models.WebhookBinding{
		AllowedIPs: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")},
		Schedule:   &models.ScheduleConstraint{AllowedHours: []int{3}},
	}
	err := CheckAccess(b, netip.MustParseAddr("8.8.8.8"), time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))

	var v *Violation
	if !errors.As(err, &v) || v.Reason != ReasonIPNotAllowed {
		t.Errorf("expected ip check to fail first, got %v", err)
	}
}

func TestMatchRef(t *testing.T) {
	tests := []struct {
		name       string
		ref        string
		branch     string
		allowTags  bool
		want       bool
		wantReason Reason
	}{
		{name: "matching branch", ref: "refs/heads/main", branch: "main", want: true},
		{name: "other branch", ref: "refs/heads/feature/x", branch: "main", want: false, wantReason: ReasonBranchMismatch},
		{name: "prefix of branch", ref: "refs/heads/main-old", branch: "main", want: false, wantReason: ReasonBranchMismatch},
		{name: "short ref", ref: "main", branch: "main", want: false, wantReason: ReasonBranchMismatch},
		{name: "remote ref", ref: "refs/remotes/origin/main", branch: "main", want: false, wantReason: ReasonBranchMismatch},
		{name: "empty ref", ref: "", branch: "main", want: true},
		{name: "no requirement", ref: "refs/heads/dev", branch: "", want: true},
		{name: "tag without opt in", ref: "refs/tags/v1.0.0", branch: "main", want: false, wantReason: ReasonTagRef},
		{name: "tag with opt in", ref: "refs/tags/v1.0.0", branch: "main", allowTags: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := MatchRef(tt.ref, tt.branch, tt.allowTags)
			if got != tt.want || reason != tt.wantReason {
				t.Errorf("MatchRef() = %v, %q; want %v, %q", got, reason, tt.want, tt.wantReason)
			}
		})
	}
}

func TestCheckTrigger(t *testing.T) {
	def := &models.DeploymentDefinition{
		Name:   "api",
		Action: &models.PullSourceAction{Path: "/opt/api", Branch: "main"},
	}
	script := &models.DeploymentDefinition{
		Name:   "job",
		Action: &models.RunScriptAction{Script: "true"},
	}

	tests := []struct {
		name    string
		binding *models.WebhookBinding
		def     *models.DeploymentDefinition
		facts   TriggerFacts
		want    Reason
	}{
		{name: "deployment branch used when binding has none", def: def, facts: TriggerFacts{Ref: "refs/heads/dev"}, want: ReasonBranchMismatch},
		{name: "binding filter wins", binding: &models.WebhookBinding{BranchFilter: "dev"}, def: def, facts: TriggerFacts{Ref: "refs/heads/dev"}},
		{name: "script has no branch", def: script, facts: TriggerFacts{Ref: "refs/heads/dev"}},
		{name: "event mismatch", binding: &models.WebhookBinding{Event: "push"}, def: script, facts: TriggerFacts{Event: "ping"}, want: ReasonEventFiltered},
		{name: "event match is case insensitive", binding: &models.WebhookBinding{Event: "Push Hook"}, def: script, facts: TriggerFacts{Event: "push hook"}},
		{name: "absent event header", binding: &models.WebhookBinding{Event: "push"}, def: script, facts: TriggerFacts{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skip := CheckTrigger(tt.binding, tt.def, tt.facts)
			if tt.want == "" {
				if skip != nil {
					t.Errorf("unexpected skip %+v", skip)
				}
				return
			}
			if skip == nil || skip.Reason != tt.want {
				t.Errorf("CheckTrigger() = %+v, want reason %q", skip, tt.want)
			}
		})
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "push payload", body: `{"ref":"refs/heads/main","after":"abc"}`, want: "refs/heads/main"},
		{name: "empty", body: "", want: ""},
		{name: "not json", body: "deploy please", want: ""},
		{name: "no ref", body: `{"zen":"Keep it logically awesome."}`, want: ""},
		{name: "non string ref", body: `{"ref":42}`, want: ""},
		{name: "array", body: `["refs/heads/main"]`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRef([]byte(tt.body)); got != tt.want {
				t.Errorf("ParseRef() = %q, want %q", got, tt.want)
			}
		})
	}
}
