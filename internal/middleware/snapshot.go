package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/imyashkale/fleetd/internal/registry"
)

const (
	// ContextSnapshot holds the configuration snapshot pinned for the request
	ContextSnapshot = "snapshot"
	// ContextSubject holds the subject of a verified bearer token
	ContextSubject = "subject"
)

// Snapshot pins the current configuration snapshot to the request. Every
// later middleware and handler reads the same snapshot even if a reload
// swaps the store mid-request.
func Snapshot(store *registry.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextSnapshot, store.Current())
		c.Next()
	}
}

// CurrentSnapshot returns the snapshot pinned by Snapshot
func CurrentSnapshot(c *gin.Context) *registry.Snapshot {
	if v, ok := c.Get(ContextSnapshot); ok {
		if snap, ok := v.(*registry.Snapshot); ok {
			return snap
		}
	}
	return nil
}

// Subject returns the authenticated token subject, if any
func Subject(c *gin.Context) string {
	return c.GetString(ContextSubject)
}
