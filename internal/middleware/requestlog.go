package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/fleetd/internal/logger"
	"github.com/imyashkale/fleetd/internal/metrics"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs each request once it completes and records its
// latency. Routes are reported by pattern to keep metric labels bounded.
func RequestLogger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveRequest(c.Request.Method, route, strconv.Itoa(status), latency)

		peer := c.Request.RemoteAddr
		if addr, ok := PeerAddr(c.Request); ok {
			peer = addr.String()
		}

		entry := logger.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"route":      route,
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"peer_ip":    peer,
		})
		if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
			entry = entry.WithField("forwarded_for", xff)
		}
		if subject := Subject(c); subject != "" {
			entry = entry.WithField("subject", subject)
		}

		switch {
		case status >= 500:
			entry.Error("Request completed")
		case status >= 400:
			entry.Warn("Request completed")
		default:
			entry.Info("Request completed")
		}
	}
}
