// Package constraints decides whether a trigger may run. Checks are pure
// functions of the binding, the request facts and the current time.
package constraints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/imyashkale/fleetd/internal/models"
	"github.com/samber/lo"
)

// ErrConstraintViolated is matched by every *Violation
var ErrConstraintViolated = errors.New("constraint violated")

// Reason is a stable machine-readable cause
type Reason string

const (
	ReasonIPNotAllowed    Reason = "ip_not_allowed"
	ReasonOutsideSchedule Reason = "outside_schedule"
	ReasonBranchMismatch  Reason = "branch_mismatch"
	ReasonTagRef          Reason = "tag_ref"
	ReasonEventFiltered   Reason = "event_filtered"
)

// Violation rejects a trigger outright
type Violation struct {
	Reason Reason
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Reason, v.Detail)
}

func (v *Violation) Is(target error) bool {
	return target == ErrConstraintViolated
}

// Skip means the trigger is accepted but nothing runs
type Skip struct {
	Reason Reason
	Detail string
}

// CheckAccess applies the rejecting constraints of a binding: source IP
// first, then the schedule window. A nil binding has no constraints.
func CheckAccess(b *models.WebhookBinding, peer netip.Addr, now time.Time) error {
	if b == nil {
		return nil
	}

	if len(b.AllowedIPs) > 0 && !Contains(b.AllowedIPs, peer) {
		return &Violation{Reason: ReasonIPNotAllowed, Detail: fmt.Sprintf("source %s is not in the allow-list", peer)}
	}

	if b.Schedule != nil && !InSchedule(b.Schedule, now) {
		loc := b.Schedule.Location
		if loc == nil {
			loc = time.UTC
		}
		return &Violation{
			Reason: ReasonOutsideSchedule,
			Detail: fmt.Sprintf("hour %d in %s is outside allowed hours %v", now.In(loc).Hour(), loc, b.Schedule.AllowedHours),
		}
	}

	return nil
}

// Contains reports whether addr falls into any prefix
func Contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	return lo.ContainsBy(prefixes, func(p netip.Prefix) bool {
		return p.Contains(addr)
	})
}

// InSchedule reports whether now, in the schedule's timezone, is an allowed hour
func InSchedule(s *models.ScheduleConstraint, now time.Time) bool {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	return lo.Contains(s.AllowedHours, now.In(loc).Hour())
}

// TriggerFacts are the parts of a request the skip filters look at
type TriggerFacts struct {
	Ref   string
	Event string
}

// CheckTrigger applies the skipping filters. The branch required is the
// binding's branch_filter, or the tracked branch of a pull_source deployment.
// An empty ref never filters.
func CheckTrigger(b *models.WebhookBinding, def *models.DeploymentDefinition, facts TriggerFacts) *Skip {
	if b != nil && b.Event != "" && facts.Event != "" && !strings.EqualFold(b.Event, facts.Event) {
		return &Skip{Reason: ReasonEventFiltered, Detail: fmt.Sprintf("event %q does not match %q", facts.Event, b.Event)}
	}

	required := ""
	allowTags := false
	if b != nil {
		required = b.BranchFilter
		allowTags = b.AllowTags
	}
	if required == "" && def != nil {
		required = def.RequiredBranch()
	}

	if ok, reason := MatchRef(facts.Ref, required, allowTags); !ok {
		return &Skip{Reason: reason, Detail: fmt.Sprintf("ref %q does not match branch %q", facts.Ref, required)}
	}
	return nil
}

// MatchRef compares a pushed ref with the required branch. Only the full
// refs/heads/<branch> form matches. Tag refs never match a branch unless
// allowTags is set.
func MatchRef(ref, branch string, allowTags bool) (bool, Reason) {
	if ref == "" || branch == "" {
		return true, ""
	}

	if strings.HasPrefix(ref, "refs/tags/") {
		if allowTags {
			return true, ""
		}
		return false, ReasonTagRef
	}

	if ref == "refs/heads/"+branch {
		return true, ""
	}
	return false, ReasonBranchMismatch
}

// ParseRef extracts the "ref" field of a JSON push payload. Anything that is
// not a JSON object with a string ref yields "".
func ParseRef(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var payload struct {
		Ref json.RawMessage `json:"ref"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	var ref string
	if err := json.Unmarshal(payload.Ref, &ref); err != nil {
		return ""
	}
	return ref
}
