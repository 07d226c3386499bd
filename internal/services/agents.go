package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/imyashkale/fleetd/internal/logger"
	"github.com/imyashkale/fleetd/internal/metrics"
	"github.com/imyashkale/fleetd/internal/models"
	"github.com/juju/clock"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	AgentStatusUnknown = "unknown"
	AgentStatusOnline  = "online"
	AgentStatusOffline = "offline"

	agentPollTick     = 5 * time.Second
	agentPollParallel = 8
	agentBodyLimit    = 64 << 10
)

// AgentMonitor polls the /health endpoint of every configured agent and
// keeps the last observed status of each.
type AgentMonitor struct {
	client  *http.Client
	clock   clock.Clock
	metrics *metrics.Metrics

	mu       sync.RWMutex
	statuses map[string]*models.AgentStatus
}

// NewAgentMonitor creates a monitor. client may be nil.
func NewAgentMonitor(client *http.Client, clk clock.Clock, m *metrics.Metrics) *AgentMonitor {
	if client == nil {
		client = &http.Client{}
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &AgentMonitor{
		client:   client,
		clock:    clk,
		metrics:  m,
		statuses: make(map[string]*models.AgentStatus),
	}
}

// Run polls agents until ctx is done. agents is called on every tick so a
// reloaded configuration is picked up without a restart.
func (m *AgentMonitor) Run(ctx context.Context, agents func() []models.Agent) error {
	logger.Info("Agent monitor started")
	for {
		m.Poll(ctx, m.due(agents()))

		select {
		case <-ctx.Done():
			logger.Info("Agent monitor stopped")
			return nil
		case <-m.clock.After(agentPollTick):
		}
	}
}

// Poll checks every agent once, with bounded concurrency
func (m *AgentMonitor) Poll(ctx context.Context, agents []models.Agent) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(agentPollParallel)

	for _, agent := range agents {
		g.Go(func() error {
			m.check(gctx, agent)
			return nil
		})
	}
	_ = g.Wait()
}

// Statuses returns the status of each agent in configuration order. Agents
// that have not been polled yet are reported as unknown.
func (m *AgentMonitor) Statuses(agents []models.Agent) []models.AgentStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.Map(agents, func(a models.Agent, _ int) models.AgentStatus {
		if st, ok := m.statuses[a.Name]; ok && st.Address == a.Address {
			return *st
		}
		return models.AgentStatus{Name: a.Name, Address: a.Address, Status: AgentStatusUnknown}
	})
}

// due filters the agents whose health interval has elapsed
func (m *AgentMonitor) due(agents []models.Agent) []models.Agent {
	now := m.clock.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	return lo.Filter(agents, func(a models.Agent, _ int) bool {
		st, ok := m.statuses[a.Name]
		if !ok || st.LastChecked == nil || st.Address != a.Address {
			return true
		}
		return !now.Before(st.LastChecked.Add(a.HealthInterval))
	})
}

func (m *AgentMonitor) check(ctx context.Context, agent models.Agent) {
	health, err := m.fetch(ctx, agent)
	now := m.clock.Now()

	m.mu.Lock()
	st, ok := m.statuses[agent.Name]
	if !ok || st.Address != agent.Address {
		st = &models.AgentStatus{Name: agent.Name, Address: agent.Address}
		m.statuses[agent.Name] = st
	}
	previous := st.Status
	st.LastChecked = &now
	if err != nil {
		st.Status = AgentStatusOffline
		st.Error = err.Error()
	} else {
		st.Status = AgentStatusOnline
		st.Error = ""
		st.Mode = health.Mode
		st.Version = health.Version
		st.UptimeSeconds = health.UptimeSeconds
		st.LastSeen = &now
	}
	current := st.Status
	m.mu.Unlock()

	m.metrics.SetAgentUp(agent.Name, err == nil)

	if previous != current {
		entry := logger.WithFields(logrus.Fields{
			"agent":   agent.Name,
			"address": agent.Address,
			"status":  current,
		})
		if err != nil {
			entry.WithField("error", err.Error()).Warn("Agent is offline")
		} else {
			entry.Info("Agent is online")
		}
	}
}

func (m *AgentMonitor) fetch(ctx context.Context, agent models.Agent) (*models.HealthResponse, error) {
	if agent.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, agent.Timeout)
		defer cancel()
	}

	url := strings.TrimRight(agent.Address, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var health models.HealthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, agentBodyLimit)).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &health, nil
}
