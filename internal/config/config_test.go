package config

import (
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	t.Setenv("FLEETD_CONFIG", "")
	t.Setenv("PORT", "")
	t.Setenv("HISTORY_SIZE", "")
	t.Setenv("SHUTDOWN_GRACE", "")
	t.Setenv("DYNAMODB_EXECUTIONS_TABLE", "")

	cfg := New()

	if cfg.GetConfigPath() != "/etc/fleetd/config.yaml" {
		t.Errorf("ConfigPath = %q", cfg.ConfigPath)
	}
	if cfg.HistorySize != 100 {
		t.Errorf("HistorySize = %d, want 100", cfg.HistorySize)
	}
	if cfg.ShutdownGrace != 30*time.Second {
		t.Errorf("ShutdownGrace = %s, want 30s", cfg.ShutdownGrace)
	}
	if cfg.GetExecutionsTableName() != "" {
		t.Errorf("ExecutionsTableName = %q, want empty", cfg.ExecutionsTableName)
	}
}

func TestNewPanicsOnInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "non numeric port", key: "PORT", value: "http"},
		{name: "port out of range", key: "PORT", value: "70000"},
		{name: "bad history size", key: "HISTORY_SIZE", value: "lots"},
		{name: "zero history size", key: "HISTORY_SIZE", value: "0"},
		{name: "bad grace", key: "SHUTDOWN_GRACE", value: "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic for %s=%s", tt.key, tt.value)
				}
			}()
			New()
		})
	}
}
