package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	suspicious     *logrus.Logger
	suspiciousFile *os.File
	suspiciousMu   sync.Mutex
)

// InitSuspicious opens the append-only sink for rejected requests.
// An empty path, or a path that cannot be opened, logs to stderr instead.
func InitSuspicious(path string) error {
	suspiciousMu.Lock()
	defer suspiciousMu.Unlock()

	if suspiciousFile != nil {
		_ = suspiciousFile.Close()
		suspiciousFile = nil
	}

	if path == "" {
		suspicious = newLogger(os.Stderr, "json")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		suspicious = newLogger(os.Stderr, "json")
		return fmt.Errorf("failed to create suspicious log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		suspicious = newLogger(os.Stderr, "json")
		return fmt.Errorf("failed to open suspicious log: %w", err)
	}

	suspiciousFile = f
	suspicious = newLogger(f, "json")
	return nil
}

// CloseSuspicious closes the suspicious sink file if one is open
func CloseSuspicious() error {
	suspiciousMu.Lock()
	defer suspiciousMu.Unlock()

	if suspiciousFile == nil {
		return nil
	}
	err := suspiciousFile.Close()
	suspiciousFile = nil
	suspicious = nil
	return err
}

// Suspicious records a rejected request. The entry is also mirrored to the
// main log at warn level.
func Suspicious(ip, method, path, reason, forwardedFor string) {
	fields := logrus.Fields{
		"ip":     ip,
		"method": method,
		"path":   path,
		"reason": reason,
	}
	if forwardedFor != "" {
		fields["forwarded_for"] = forwardedFor
	}

	suspiciousMu.Lock()
	if suspicious == nil {
		suspicious = newLogger(os.Stderr, "json")
	}
	suspicious.WithFields(fields).Warn("suspicious request")
	suspiciousMu.Unlock()

	WithFields(fields).Warn("Request rejected")
}
