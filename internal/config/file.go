package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v2"
)

// Defaults applied to the node configuration file
const (
	DefaultPort           = 8111
	DefaultIssuer         = "fleetd"
	DefaultTokenTTL       = "24h"
	DefaultTimeout        = "300s"
	DefaultMaxTimeout     = "1h"
	DefaultOutputLimit    = 16 * 1024
	DefaultComposeFile    = "docker-compose.yaml"
	DefaultRemote         = "origin"
	DefaultBranch         = "main"
	DefaultTimezone       = "UTC"
	DefaultAgentTimeout   = "10s"
	DefaultHealthInterval = "30s"
)

// DefaultAllowedNetworks are the private ranges accepted when isolation is on
var DefaultAllowedNetworks = []string{
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.1/32",
}

// File is the YAML node configuration
type File struct {
	Mode     string           `yaml:"mode"`
	NodeName string           `yaml:"node_name"`
	Server   ServerSection    `yaml:"server"`
	Auth     AuthSection      `yaml:"auth"`
	Deploy   DeploySection    `yaml:"deploy"`
	Webhooks []WebhookSection `yaml:"webhooks"`
	Agents   []AgentSection   `yaml:"agents"`

	// MissingEnv lists ${VAR} references that had no value during loading
	MissingEnv []string `yaml:"-"`
}

type ServerSection struct {
	Bind            string   `yaml:"bind"`
	Port            int      `yaml:"port"`
	IsolationMode   *bool    `yaml:"isolation_mode"`
	AllowedNetworks []string `yaml:"allowed_networks"`
	CORSOrigin      string   `yaml:"cors_origin"`
}

type AuthSection struct {
	JWTSecret       string `yaml:"jwt_secret"`
	Issuer          string `yaml:"issuer"`
	TokenTTL        string `yaml:"token_ttl"`
	WebhookSecret   string `yaml:"webhook_secret"`
	WebhookProvider string `yaml:"webhook_provider"`
}

type DeploySection struct {
	DefaultTimeout string              `yaml:"default_timeout"`
	MaxTimeout     string              `yaml:"max_timeout"`
	OutputLimit    int                 `yaml:"output_limit"`
	Deployments    []DeploymentSection `yaml:"deployments"`
}

// DeploymentSection holds every field any action kind may use
type DeploymentSection struct {
	Name      string            `yaml:"name"`
	Type      string            `yaml:"type"`
	Env       map[string]string `yaml:"env"`
	PreHooks  []string          `yaml:"pre_hooks"`
	PostHooks []string          `yaml:"post_hooks"`
	Shutdown  []string          `yaml:"shutdown"`
	Timeout   string            `yaml:"timeout"`

	// pull_source
	Path            string `yaml:"path"`
	Repo            string `yaml:"repo"`
	Remote          string `yaml:"remote"`
	Branch          string `yaml:"branch"`
	SSHKey          string `yaml:"ssh_key"`
	SkipIfUnchanged bool   `yaml:"skip_if_unchanged"`

	// pull_image
	ComposeFile  string   `yaml:"compose_file"`
	Services     []string `yaml:"services"`
	Prune        bool     `yaml:"prune"`
	RegistryAuth string   `yaml:"registry_auth"`

	// run_script
	Script     string `yaml:"script"`
	WorkingDir string `yaml:"working_dir"`
	User       string `yaml:"user"`
}

type WebhookSection struct {
	Path         string           `yaml:"path"`
	Deployment   string           `yaml:"deployment"`
	Provider     string           `yaml:"provider"`
	Secret       string           `yaml:"secret"`
	Event        string           `yaml:"event"`
	AllowedIPs   []string         `yaml:"allowed_ips"`
	Schedule     *ScheduleSection `yaml:"schedule_constraint"`
	BranchFilter string           `yaml:"branch_filter"`
	AllowTags    bool             `yaml:"allow_tags"`
}

type ScheduleSection struct {
	AllowedHours []int  `yaml:"allowed_hours"`
	Timezone     string `yaml:"timezone"`
}

type AgentSection struct {
	Name           string `yaml:"name"`
	Address        string `yaml:"address"`
	Timeout        string `yaml:"timeout"`
	HealthInterval string `yaml:"health_interval"`
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadFile reads and parses a node configuration file.
// ${VAR} references are replaced with environment values before parsing.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses node configuration from YAML bytes and applies defaults
func Parse(data []byte) (*File, error) {
	expanded, missing := expandEnv(string(data))

	f := &File{}
	if err := yaml.UnmarshalStrict([]byte(expanded), f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	f.MissingEnv = missing
	f.applyDefaults()

	return f, nil
}

func expandEnv(s string) (string, []string) {
	seen := make(map[string]bool)
	out := envRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			seen[name] = true
		}
		return value
	})

	missing := make([]string, 0, len(seen))
	for name := range seen {
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return out, missing
}

func (f *File) applyDefaults() {
	if f.Mode == "" {
		f.Mode = "agent"
	}
	if f.Server.Bind == "" {
		f.Server.Bind = "0.0.0.0"
	}
	if f.Server.Port == 0 {
		f.Server.Port = DefaultPort
	}
	if f.Server.IsolationMode == nil {
		enabled := true
		f.Server.IsolationMode = &enabled
	}
	if len(f.Server.AllowedNetworks) == 0 {
		f.Server.AllowedNetworks = append([]string(nil), DefaultAllowedNetworks...)
	}

	if f.Auth.Issuer == "" {
		f.Auth.Issuer = DefaultIssuer
	}
	if f.Auth.TokenTTL == "" {
		f.Auth.TokenTTL = DefaultTokenTTL
	}
	if f.Auth.WebhookProvider == "" {
		f.Auth.WebhookProvider = "github"
	}

	if f.Deploy.DefaultTimeout == "" {
		f.Deploy.DefaultTimeout = DefaultTimeout
	}
	if f.Deploy.MaxTimeout == "" {
		f.Deploy.MaxTimeout = DefaultMaxTimeout
	}
	if f.Deploy.OutputLimit <= 0 {
		f.Deploy.OutputLimit = DefaultOutputLimit
	}

	for i := range f.Deploy.Deployments {
		d := &f.Deploy.Deployments[i]
		if d.Remote == "" {
			d.Remote = DefaultRemote
		}
		if d.Branch == "" {
			d.Branch = DefaultBranch
		}
		if d.ComposeFile == "" && (d.Type == "pull_image" || d.Type == "docker_pull") {
			d.ComposeFile = DefaultComposeFile
		}
	}

	for i := range f.Webhooks {
		w := &f.Webhooks[i]
		if w.Provider == "" {
			w.Provider = "github"
		}
		if w.Schedule != nil && w.Schedule.Timezone == "" {
			w.Schedule.Timezone = DefaultTimezone
		}
	}

	for i := range f.Agents {
		a := &f.Agents[i]
		if a.Timeout == "" {
			a.Timeout = DefaultAgentTimeout
		}
		if a.HealthInterval == "" {
			a.HealthInterval = DefaultHealthInterval
		}
	}
}

// IsolationEnabled reports whether network isolation is on
func (f *File) IsolationEnabled() bool {
	return f.Server.IsolationMode == nil || *f.Server.IsolationMode
}
