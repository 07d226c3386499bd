// Package lock provides a non-blocking, per-name mutual exclusion table.
package lock

import (
	"context"
	"sort"
	"sync"

	"github.com/imyashkale/fleetd/internal/logger"
)

// Table holds one lock per deployment name. Entries are created on first
// use and never removed, only toggled.
type Table struct {
	mu       sync.Mutex
	held     map[string]bool
	closed   bool
	inflight sync.WaitGroup
}

// NewTable creates an empty lock table
func NewTable() *Table {
	return &Table{
		held: make(map[string]bool),
	}
}

// TryAcquire takes the lock for name without waiting. It returns ErrBusy if
// the lock is held and ErrClosed once Close has been called.
func (t *Table) TryAcquire(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if t.held[name] {
		logger.WithField("deployment", name).Debug("Lock busy")
		return ErrBusy
	}

	t.held[name] = true
	t.inflight.Add(1)
	return nil
}

// Release frees the lock for name. Releasing a free lock is a no-op.
func (t *Table) Release(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.held[name] {
		logger.WithField("deployment", name).Warn("Release of a lock that is not held")
		return
	}

	t.held[name] = false
	t.inflight.Done()
}

// Held reports whether name is currently locked
func (t *Table) Held(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.held[name]
}

// HeldNames returns the currently locked names, sorted
func (t *Table) HeldNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.held))
	for name, held := range t.held {
		if held {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Close stops new acquisitions. Locks already held stay valid until released.
func (t *Table) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
}

// Wait blocks until every held lock is released or ctx is done
func (t *Table) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
