package registry

import (
	"errors"
	"fmt"
	"net/netip"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/EvilSuperstars/go-cidrman"
	"github.com/imyashkale/fleetd/internal/auth"
	"github.com/imyashkale/fleetd/internal/config"
	"github.com/imyashkale/fleetd/internal/models"
	"github.com/samber/lo"
)

var ErrDeploymentNotFound = errors.New("deployment not found")

// Isolation is the node-wide network allow-list
type Isolation struct {
	Enabled  bool
	Prefixes []netip.Prefix
}

// Settings are node settings that may change on reload
type Settings struct {
	Mode           models.Mode
	NodeName       string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	OutputLimit    int
	TokenTTL       time.Duration
	CORSOrigin     string
}

// Snapshot is an immutable view of the node configuration. It is replaced
// as a whole on reload and never mutated after Build returns.
type Snapshot struct {
	Settings  Settings
	Isolation Isolation
	Auth      *auth.TokenAuthenticator

	definitions     map[string]*models.DeploymentDefinition
	bindings        map[string]*models.WebhookBinding
	verifiers       map[string]auth.Verifier
	defaultVerifier auth.Verifier
	agents          []models.Agent
	names           []string
}

// Resolve returns the definition registered under name
func (s *Snapshot) Resolve(name string) (*models.DeploymentDefinition, error) {
	def, ok := s.definitions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, name)
	}
	return def, nil
}

// Binding returns the webhook binding for a deployment name, or nil
func (s *Snapshot) Binding(name string) *models.WebhookBinding {
	return s.bindings[name]
}

// Verifier returns the signature verifier for name. Names without a binding
// use the node default. A binding without a secret has a nil verifier, and a
// nil verifier means unsigned requests pass.
func (s *Snapshot) Verifier(name string) auth.Verifier {
	if _, ok := s.bindings[name]; ok {
		return s.verifiers[name]
	}
	return s.defaultVerifier
}

// Definitions returns all definitions ordered by name
func (s *Snapshot) Definitions() []*models.DeploymentDefinition {
	return lo.Map(s.names, func(name string, _ int) *models.DeploymentDefinition {
		return s.definitions[name]
	})
}

// Agents returns the configured agents
func (s *Snapshot) Agents() []models.Agent {
	return append([]models.Agent(nil), s.agents...)
}

// Build validates a parsed configuration file and turns it into a snapshot
func Build(f *config.File) (*Snapshot, error) {
	var errs []error

	mode := models.Mode(f.Mode)
	if mode != models.ModeHome && mode != models.ModeAgent {
		errs = append(errs, fmt.Errorf("mode: must be %q or %q, got %q", models.ModeHome, models.ModeAgent, f.Mode))
	}

	tokenTTL, err := time.ParseDuration(f.Auth.TokenTTL)
	if err != nil || tokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl: invalid duration %q", f.Auth.TokenTTL))
	}
	defaultTimeout, err := time.ParseDuration(f.Deploy.DefaultTimeout)
	if err != nil || defaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("deploy.default_timeout: invalid duration %q", f.Deploy.DefaultTimeout))
	}
	maxTimeout, err := time.ParseDuration(f.Deploy.MaxTimeout)
	if err != nil || maxTimeout <= 0 {
		errs = append(errs, fmt.Errorf("deploy.max_timeout: invalid duration %q", f.Deploy.MaxTimeout))
	}
	if defaultTimeout > maxTimeout && maxTimeout > 0 {
		defaultTimeout = maxTimeout
	}

	snap := &Snapshot{
		Settings: Settings{
			Mode:           mode,
			NodeName:       f.NodeName,
			DefaultTimeout: defaultTimeout,
			MaxTimeout:     maxTimeout,
			OutputLimit:    f.Deploy.OutputLimit,
			TokenTTL:       tokenTTL,
			CORSOrigin:     f.Server.CORSOrigin,
		},
		definitions: make(map[string]*models.DeploymentDefinition),
		bindings:    make(map[string]*models.WebhookBinding),
		verifiers:   make(map[string]auth.Verifier),
	}

	snap.Auth, err = auth.NewTokenAuthenticator(f.Auth.JWTSecret, f.Auth.Issuer)
	if err != nil {
		errs = append(errs, fmt.Errorf("auth.jwt_secret: %w", err))
	}

	snap.defaultVerifier, err = auth.NewVerifier(auth.Provider(f.Auth.WebhookProvider), f.Auth.WebhookSecret)
	if err != nil {
		errs = append(errs, fmt.Errorf("auth.webhook_provider: %w", err))
	}

	snap.Isolation.Enabled = f.IsolationEnabled()
	snap.Isolation.Prefixes, err = parseNetworks(f.Server.AllowedNetworks)
	if err != nil {
		errs = append(errs, fmt.Errorf("server.allowed_networks: %w", err))
	}
	if snap.Isolation.Enabled && len(snap.Isolation.Prefixes) == 0 {
		errs = append(errs, errors.New("server.allowed_networks: isolation is enabled but no network is allowed"))
	}

	for i, d := range f.Deploy.Deployments {
		def, err := buildDefinition(d, defaultTimeout, maxTimeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("deploy.deployments[%d]: %w", i, err))
			continue
		}
		if _, dup := snap.definitions[def.Name]; dup {
			errs = append(errs, fmt.Errorf("deploy.deployments[%d]: duplicate name %q", i, def.Name))
			continue
		}
		snap.definitions[def.Name] = def
		snap.names = append(snap.names, def.Name)
	}
	sort.Strings(snap.names)

	for i, w := range f.Webhooks {
		b, err := buildBinding(w)
		if err != nil {
			errs = append(errs, fmt.Errorf("webhooks[%d]: %w", i, err))
			continue
		}
		if _, ok := snap.definitions[b.Deployment]; !ok {
			errs = append(errs, fmt.Errorf("webhooks[%d]: unknown deployment %q", i, b.Deployment))
			continue
		}
		if _, dup := snap.bindings[b.Deployment]; dup {
			errs = append(errs, fmt.Errorf("webhooks[%d]: deployment %q already has a webhook", i, b.Deployment))
			continue
		}

		v, err := auth.NewVerifier(auth.Provider(b.Provider), b.Secret)
		if err != nil {
			errs = append(errs, fmt.Errorf("webhooks[%d]: %w", i, err))
			continue
		}
		snap.bindings[b.Deployment] = b
		snap.verifiers[b.Deployment] = v
	}

	seenAgents := make(map[string]bool)
	for i, a := range f.Agents {
		agent, err := buildAgent(a)
		if err != nil {
			errs = append(errs, fmt.Errorf("agents[%d]: %w", i, err))
			continue
		}
		if seenAgents[agent.Name] {
			errs = append(errs, fmt.Errorf("agents[%d]: duplicate name %q", i, agent.Name))
			continue
		}
		seenAgents[agent.Name] = true
		snap.agents = append(snap.agents, agent)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return snap, nil
}

// Load reads, parses and validates a configuration file
func Load(filename string) (*Snapshot, *config.File, error) {
	f, err := config.LoadFile(filename)
	if err != nil {
		return nil, nil, err
	}
	snap, err := Build(f)
	if err != nil {
		return nil, nil, err
	}
	return snap, f, nil
}

func buildDefinition(d config.DeploymentSection, defaultTimeout, maxTimeout time.Duration) (*models.DeploymentDefinition, error) {
	if d.Name == "" {
		return nil, errors.New("name is required")
	}
	if strings.ContainsAny(d.Name, "/ ") {
		return nil, fmt.Errorf("name %q must not contain slashes or spaces", d.Name)
	}

	kind, ok := models.ParseKind(d.Type)
	if !ok {
		return nil, fmt.Errorf("%s: unknown type %q", d.Name, d.Type)
	}

	def := &models.DeploymentDefinition{
		Name:      d.Name,
		Env:       d.Env,
		PreHooks:  d.PreHooks,
		PostHooks: d.PostHooks,
		Shutdown:  d.Shutdown,
		Timeout:   defaultTimeout,
	}

	if d.Timeout != "" {
		timeout, err := time.ParseDuration(d.Timeout)
		if err != nil || timeout <= 0 {
			return nil, fmt.Errorf("%s: invalid timeout %q", d.Name, d.Timeout)
		}
		def.Timeout = timeout
	}
	if maxTimeout > 0 && def.Timeout > maxTimeout {
		def.Timeout = maxTimeout
	}

	switch kind {
	case models.KindPullSource:
		if d.Path == "" {
			return nil, fmt.Errorf("%s: path is required for %s", d.Name, kind)
		}
		def.Action = &models.PullSourceAction{
			Path:            d.Path,
			Repo:            d.Repo,
			Remote:          d.Remote,
			Branch:          d.Branch,
			SSHKey:          d.SSHKey,
			SkipIfUnchanged: d.SkipIfUnchanged,
		}
	case models.KindPullImage:
		if d.ComposeFile == "" {
			return nil, fmt.Errorf("%s: compose_file is required for %s", d.Name, kind)
		}
		if d.RegistryAuth != "" && d.RegistryAuth != "ecr" {
			return nil, fmt.Errorf("%s: unsupported registry_auth %q", d.Name, d.RegistryAuth)
		}
		composeFile := d.ComposeFile
		if !filepath.IsAbs(composeFile) && d.Path != "" {
			composeFile = filepath.Join(d.Path, composeFile)
		}
		def.Action = &models.PullImageAction{
			Path:         d.Path,
			ComposeFile:  composeFile,
			Services:     d.Services,
			Prune:        d.Prune,
			RegistryAuth: d.RegistryAuth,
		}
	case models.KindRunScript:
		if strings.TrimSpace(d.Script) == "" {
			return nil, fmt.Errorf("%s: script is required for %s", d.Name, kind)
		}
		workingDir := d.WorkingDir
		if workingDir == "" {
			workingDir = d.Path
		}
		def.Action = &models.RunScriptAction{
			Script:     d.Script,
			WorkingDir: workingDir,
			User:       d.User,
		}
	}

	return def, nil
}

func buildBinding(w config.WebhookSection) (*models.WebhookBinding, error) {
	deployment := w.Deployment
	if deployment == "" {
		deployment = path.Base(strings.TrimSuffix(w.Path, "/"))
	}
	if deployment == "" || deployment == "." || deployment == "/" {
		return nil, errors.New("deployment is required")
	}

	b := &models.WebhookBinding{
		Path:         w.Path,
		Deployment:   deployment,
		Provider:     w.Provider,
		Secret:       w.Secret,
		Event:        w.Event,
		BranchFilter: w.BranchFilter,
		AllowTags:    w.AllowTags,
	}

	for _, raw := range w.AllowedIPs {
		p, err := parsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("allowed_ips: %w", err)
		}
		b.AllowedIPs = append(b.AllowedIPs, p)
	}

	if w.Schedule != nil {
		loc, err := time.LoadLocation(w.Schedule.Timezone)
		if err != nil {
			return nil, fmt.Errorf("schedule_constraint.timezone: %w", err)
		}
		if len(w.Schedule.AllowedHours) == 0 {
			return nil, errors.New("schedule_constraint.allowed_hours must not be empty")
		}
		for _, h := range w.Schedule.AllowedHours {
			if h < 0 || h > 23 {
				return nil, fmt.Errorf("schedule_constraint.allowed_hours: %d is not an hour of the day", h)
			}
		}
		b.Schedule = &models.ScheduleConstraint{
			AllowedHours: lo.Uniq(w.Schedule.AllowedHours),
			Location:     loc,
		}
	}

	return b, nil
}

func buildAgent(a config.AgentSection) (models.Agent, error) {
	if a.Name == "" || a.Address == "" {
		return models.Agent{}, errors.New("name and address are required")
	}
	timeout, err := time.ParseDuration(a.Timeout)
	if err != nil || timeout <= 0 {
		return models.Agent{}, fmt.Errorf("%s: invalid timeout %q", a.Name, a.Timeout)
	}
	interval, err := time.ParseDuration(a.HealthInterval)
	if err != nil || interval <= 0 {
		return models.Agent{}, fmt.Errorf("%s: invalid health_interval %q", a.Name, a.HealthInterval)
	}
	return models.Agent{
		Name:           a.Name,
		Address:        a.Address,
		Timeout:        timeout,
		HealthInterval: interval,
	}, nil
}

// parseNetworks normalises an allow-list: bare addresses become host
// prefixes and overlapping ranges are merged.
func parseNetworks(networks []string) ([]netip.Prefix, error) {
	var v4, v6 []string
	for _, raw := range networks {
		p, err := parsePrefix(raw)
		if err != nil {
			return nil, err
		}
		if p.Addr().Is4() {
			v4 = append(v4, p.String())
		} else {
			v6 = append(v6, p.String())
		}
	}

	merged := make([]netip.Prefix, 0, len(networks))
	for _, group := range [][]string{v4, v6} {
		if len(group) == 0 {
			continue
		}
		cidrs, err := cidrman.MergeCIDRs(group)
		if err != nil {
			return nil, err
		}
		for _, c := range cidrs {
			p, err := netip.ParsePrefix(c)
			if err != nil {
				return nil, err
			}
			merged = append(merged, p)
		}
	}
	return merged, nil
}

func parsePrefix(raw string) (netip.Prefix, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "/") {
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid address %q", raw)
		}
		addr = addr.Unmap()
		return netip.PrefixFrom(addr, addr.BitLen()), nil
	}

	p, err := netip.ParsePrefix(raw)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid network %q", raw)
	}
	return p.Masked(), nil
}
