package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

// TestLoggerInitialization tests that logger can be initialized with different log levels
func TestLoggerInitialization(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  logrus.Level
	}{
		{name: "Valid DEBUG level", level: "DEBUG", want: logrus.DebugLevel},
		{name: "Valid INFO level", level: "INFO", want: logrus.InfoLevel},
		{name: "Valid WARN level", level: "WARN", want: logrus.WarnLevel},
		{name: "Valid ERROR level", level: "ERROR", want: logrus.ErrorLevel},
		{name: "Lowercase level", level: "debug", want: logrus.DebugLevel},
		{name: "Invalid level defaults to INFO", level: "INVALID", want: logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Init(tt.level, "json")
			if GetLogger().Level != tt.want {
				t.Errorf("Expected level %v, got %v", tt.want, GetLogger().Level)
			}
		})
	}
}

func TestLoggerFormat(t *testing.T) {
	tests := []struct {
		format string
		isJSON bool
	}{
		{format: "json", isJSON: true},
		{format: "text", isJSON: false},
		{format: "TEXT", isJSON: false},
		{format: "bogus", isJSON: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			l := newLogger(&bytes.Buffer{}, tt.format)
			_, isJSON := l.Formatter.(*logrus.JSONFormatter)
			if isJSON != tt.isJSON {
				t.Errorf("format %q: json formatter = %v, want %v", tt.format, isJSON, tt.isJSON)
			}
		})
	}
}

// TestLoggerMethods ensures the package helpers don't panic
func TestLoggerMethods(t *testing.T) {
	Init("DEBUG", "json")

	tests := []struct {
		name     string
		testFunc func()
	}{
		{name: "Debug", testFunc: func() { Debug("test debug message") }},
		{name: "Debugf", testFunc: func() { Debugf("test debug format %s", "message") }},
		{name: "Info", testFunc: func() { Info("test info message") }},
		{name: "Infof", testFunc: func() { Infof("test info format %s", "message") }},
		{name: "Warn", testFunc: func() { Warn("test warn message") }},
		{name: "Warnf", testFunc: func() { Warnf("test warn format %s", "message") }},
		{name: "Error", testFunc: func() { Error("test error message") }},
		{name: "Errorf", testFunc: func() { Errorf("test error format %s", "message") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.testFunc()
		})
	}
}

// TestLoggerWithFields tests that logger can add contextual fields
func TestLoggerWithFields(t *testing.T) {
	Init("INFO", "json")

	entry := WithFields(logrus.Fields{
		"deployment": "api",
		"status":     "succeeded",
	})
	if entry == nil {
		t.Fatal("WithFields should return a non-nil entry")
	}
	if entry.Data["deployment"] != "api" {
		t.Errorf("Expected deployment field to be set, got %v", entry.Data)
	}
}

func TestSuspiciousSink(t *testing.T) {
	Init("ERROR", "json")
	path := filepath.Join(t.TempDir(), "nested", "suspicious.log")

	if err := InitSuspicious(path); err != nil {
		t.Fatalf("InitSuspicious() error = %v", err)
	}
	t.Cleanup(func() { _ = CloseSuspicious() })

	Suspicious("203.0.113.9", "POST", "/webhook/deploy/api", "network_violation", "10.0.0.1")
	Suspicious("203.0.113.9", "GET", "/health", "network_violation", "")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 entries, got %d: %s", len(lines), data)
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("entry is not JSON: %v", err)
	}
	for key, want := range map[string]string{
		"ip":            "203.0.113.9",
		"method":        "POST",
		"path":          "/webhook/deploy/api",
		"reason":        "network_violation",
		"forwarded_for": "10.0.0.1",
	} {
		if entry[key] != want {
			t.Errorf("entry[%q] = %v, want %q", key, entry[key], want)
		}
	}

	var second map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("entry is not JSON: %v", err)
	}
	if _, ok := second["forwarded_for"]; ok {
		t.Error("forwarded_for should be omitted when empty")
	}
}

func TestSuspiciousSinkFallback(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := InitSuspicious(filepath.Join(blocker, "suspicious.log")); err == nil {
		t.Error("expected an error when the directory cannot be created")
	}
	// Falls back to stderr and keeps working.
	Suspicious("198.51.100.1", "GET", "/", "missing_auth", "")
}
