package registry

import (
	"sync"
	"sync/atomic"

	"github.com/imyashkale/fleetd/internal/logger"
	"github.com/sirupsen/logrus"
)

// Store publishes the current snapshot. Readers take one snapshot per
// request and keep it, so a reload never changes a request midway.
type Store struct {
	current  atomic.Pointer[Snapshot]
	path     string
	reloadMu sync.Mutex
	onReload func(err error)
}

// NewStore creates a store serving snap. path is the file Reload reads.
func NewStore(snap *Snapshot, path string) *Store {
	s := &Store{path: path}
	s.current.Store(snap)
	return s
}

// OnReload registers a callback invoked after every reload attempt
func (s *Store) OnReload(fn func(err error)) {
	s.onReload = fn
}

// Current returns the active snapshot
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Swap atomically replaces the active snapshot
func (s *Store) Swap(snap *Snapshot) {
	s.current.Store(snap)
}

// Reload re-reads the configuration file. An invalid file leaves the
// active snapshot in place.
func (s *Store) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	snap, f, err := Load(s.path)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"path":  s.path,
			"error": err.Error(),
		}).Error("Configuration reload rejected, keeping previous snapshot")
	} else {
		s.Swap(snap)
		fields := logrus.Fields{
			"path":        s.path,
			"deployments": len(snap.names),
			"webhooks":    len(snap.bindings),
		}
		if len(f.MissingEnv) > 0 {
			fields["missing_env"] = f.MissingEnv
		}
		logger.WithFields(fields).Info("Configuration reloaded")
	}

	if s.onReload != nil {
		s.onReload(err)
	}
	return err
}
