package models

import (
	"net/netip"
	"time"
)

// ScheduleConstraint restricts triggers to hours of the day in a timezone
type ScheduleConstraint struct {
	AllowedHours []int
	Location     *time.Location
}

// WebhookBinding links an inbound trigger path to a deployment
type WebhookBinding struct {
	Path         string
	Deployment   string
	Provider     string
	Secret       string
	Event        string
	AllowedIPs   []netip.Prefix
	Schedule     *ScheduleConstraint
	BranchFilter string
	AllowTags    bool
}

// Agent is a remote node watched by a home node
type Agent struct {
	Name           string
	Address        string
	Timeout        time.Duration
	HealthInterval time.Duration
}

// AgentStatus is the last observed state of an agent
type AgentStatus struct {
	Name          string     `json:"name"`
	Address       string     `json:"address"`
	Status        string     `json:"status"` // "unknown", "online", "offline"
	Mode          string     `json:"mode,omitempty"`
	Version       string     `json:"version,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds,omitempty"`
	LastSeen      *time.Time `json:"last_seen,omitempty"`
	LastChecked   *time.Time `json:"last_checked,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// HealthResponse is served by GET /health
type HealthResponse struct {
	Status        string `json:"status"`
	Mode          string `json:"mode"`
	Node          string `json:"node,omitempty"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
