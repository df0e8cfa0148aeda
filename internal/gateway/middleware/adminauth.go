package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nullstack-gw/nexusgate/internal/config"
	apperrors "github.com/nullstack-gw/nexusgate/internal/errors"
)

// AdminAuth gates the admin CRUD surface behind one of the operator's
// configured AdminTokens — a distinct credential from client-facing
// ApiKeys, matching §6's "straightforward wrappers over C2/C4" framing.
func AdminAuth(cfg *config.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractKey(c)
		snap := cfg.Snapshot()
		for _, t := range snap.File.AdminTokens {
			if t != "" && strings.TrimSpace(token) == t {
				c.Next()
				return
			}
		}
		respondError(c, apperrors.NewKind(apperrors.KindForbidden, "admin token required"))
	}
}
