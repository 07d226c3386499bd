package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/fleetd/internal/auth"
	"github.com/imyashkale/fleetd/internal/logger"
	"github.com/imyashkale/fleetd/internal/metrics"
	"github.com/imyashkale/fleetd/internal/models"
	"github.com/sirupsen/logrus"
)

// Authentication validates the bearer token of control-plane requests.
// Every defect produces the same response so callers cannot tell a missing
// token from an expired or forged one.
func Authentication(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := CurrentSnapshot(c)
		if snap == nil {
			abortInternal(c)
			return
		}

		identity, err := authenticate(snap.Auth, c.GetHeader("Authorization"))
		if err != nil {
			peer := c.Request.RemoteAddr
			if addr, ok := PeerAddr(c.Request); ok {
				peer = addr.String()
			}
			logger.WithFields(logrus.Fields{
				"path":  c.Request.URL.Path,
				"error": err.Error(),
			}).Debug("Authentication failed")
			logger.Suspicious(peer, c.Request.Method, c.Request.URL.Path, models.CodeAuthInvalid, c.GetHeader("X-Forwarded-For"))
			m.IncRejection(models.CodeAuthInvalid)

			c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
				Error:   models.CodeAuthInvalid,
				Message: "Authentication required",
			})
			return
		}

		c.Set(ContextSubject, identity.Subject)

		logger.WithFields(logrus.Fields{
			"subject": identity.Subject,
			"path":    c.Request.URL.Path,
		}).Debug("Authentication successful")

		c.Next()
	}
}

func authenticate(a *auth.TokenAuthenticator, header string) (*auth.Identity, error) {
	if a == nil {
		return nil, auth.ErrAuthInvalid
	}
	raw, ok := auth.BearerToken(header)
	if !ok {
		return nil, auth.ErrAuthInvalid
	}
	return a.Verify(raw)
}
