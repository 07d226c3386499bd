package middleware

import (
	"net"
	"net/http"
	"net/netip"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/fleetd/internal/constraints"
	"github.com/imyashkale/fleetd/internal/logger"
	"github.com/imyashkale/fleetd/internal/metrics"
	"github.com/imyashkale/fleetd/internal/models"
)

// PeerAddr returns the transport-level address of the client. Forwarding
// headers are never consulted.
func PeerAddr(r *http.Request) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// Isolation rejects every request whose peer address is outside the allowed
// networks. It must run before any other application middleware.
func Isolation(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := CurrentSnapshot(c)
		if snap == nil {
			abortInternal(c)
			return
		}
		if !snap.Isolation.Enabled {
			c.Next()
			return
		}

		addr, ok := PeerAddr(c.Request)
		if ok && constraints.Contains(snap.Isolation.Prefixes, addr) {
			c.Next()
			return
		}

		peer := c.Request.RemoteAddr
		if ok {
			peer = addr.String()
		}
		logger.Suspicious(peer, c.Request.Method, c.Request.URL.Path, models.CodeIsolationRejected, c.GetHeader("X-Forwarded-For"))
		m.IncRejection(models.CodeIsolationRejected)

		c.AbortWithStatusJSON(http.StatusForbidden, models.ErrorResponse{
			Error:   models.CodeIsolationRejected,
			Message: "Access denied",
		})
	}
}

func abortInternal(c *gin.Context) {
	logger.WithField("path", c.Request.URL.Path).Error("No configuration snapshot attached to request")
	c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   models.CodeInternal,
		Message: "Configuration unavailable",
	})
}
