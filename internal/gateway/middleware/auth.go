// Package middleware implements C9's gin middleware chain: client
// authentication, quota/concurrency enforcement, and request-id/logging
// enrichment. Grounded on the teacher's internal/middleware.UnifiedAuth
// (multi-source key extraction, respondUnauthorized's format-aware JSON
// body), adapted from a static-key/custom-validator model to the
// gateway's opaque, budget-carrying apikey.Key lookups.
package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nullstack-gw/nexusgate/internal/apikey"
	apperrors "github.com/nullstack-gw/nexusgate/internal/errors"
	"github.com/nullstack-gw/nexusgate/internal/httpformat"
)

const contextKeyAPIKey = "apiKey"

// Auth authenticates the bearer client key against keys, attaching the
// resolved *apikey.Key to the gin context on success. Accepts the same
// multi-source extraction the teacher's UnifiedAuth does — Authorization
// Bearer first, then x-api-key — since both Claude-style and OpenAI-style
// clients are served off this one surface (§6).
func Auth(keys *apikey.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := extractKey(c)
		if secret == "" {
			respondError(c, apperrors.NewKind(apperrors.KindAuthRequired, "API key not provided"))
			return
		}

		k, err := keys.Authenticate(c.Request.Context(), secret)
		if err != nil {
			respondError(c, apperrors.NewKind(apperrors.KindAuthRequired, "invalid API key"))
			return
		}
		if !k.Active {
			respondError(c, apperrors.NewKind(apperrors.KindForbidden, "API key has been revoked"))
			return
		}
		if k.IsExpired(time.Now()) {
			respondError(c, apperrors.NewKind(apperrors.KindAuthExpired, "API key has expired"))
			return
		}

		c.Set(contextKeyAPIKey, k)
		c.Next()
	}
}

func extractKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return strings.TrimSpace(auth)
	}
	if v := c.GetHeader("x-api-key"); v != "" {
		return v
	}
	return ""
}

// KeyFromContext returns the authenticated key attached by Auth.
func KeyFromContext(c *gin.Context) (*apikey.Key, bool) {
	v, ok := c.Get(contextKeyAPIKey)
	if !ok {
		return nil, false
	}
	k, ok := v.(*apikey.Key)
	return k, ok
}

func respondError(c *gin.Context, apiErr *apperrors.APIError) {
	format := httpformat.DetectFromContext(c)
	payload, err := apiErr.ToJSON(format)
	if err != nil {
		c.JSON(apiErr.HTTPStatus, gin.H{"error": gin.H{"message": apiErr.Message, "type": apiErr.Type}})
		c.Abort()
		return
	}
	c.Data(apiErr.HTTPStatus, "application/json", payload)
	c.Abort()
}
