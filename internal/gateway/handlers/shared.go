// Package handlers implements C9's HTTP endpoints: /v1/messages,
// /v1/chat/completions, /v1/models, /health, and the admin CRUD surface.
// Grounded on the teacher's internal/handlers package split (one file per
// surface, a shared request-parsing/error-abort helper file), generalized
// from single-format OpenAI/Gemini passthrough handlers to the gateway's
// dual-format normalize/dispatch/re-encode flow.
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/nullstack-gw/nexusgate/internal/apikey"
	apperrors "github.com/nullstack-gw/nexusgate/internal/errors"
	"github.com/nullstack-gw/nexusgate/internal/gateway"
	gwmw "github.com/nullstack-gw/nexusgate/internal/gateway/middleware"
	"github.com/nullstack-gw/nexusgate/internal/httpformat"
	"github.com/nullstack-gw/nexusgate/internal/logging"
	"github.com/nullstack-gw/nexusgate/internal/netutil"
)

// Handlers bundles the pipeline and key manager every chat endpoint needs.
type Handlers struct {
	Pipeline *gateway.Pipeline
	Keys     *apikey.Manager
}

// New constructs a Handlers.
func New(pipeline *gateway.Pipeline, keys *apikey.Manager) *Handlers {
	return &Handlers{Pipeline: pipeline, Keys: keys}
}

func newMessageID() string {
	return "msg_" + uuid.NewString()
}

func newCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// abortAPIError writes apiErr in the wire format appropriate to c's path
// and aborts the gin context.
func abortAPIError(c *gin.Context, apiErr *apperrors.APIError) {
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

// abortBadRequest maps a wire.ValidationError (or any plain error) to a
// BadRequest APIError.
func abortBadRequest(c *gin.Context, err error) {
	abortAPIError(c, apperrors.NewKind(apperrors.KindBadRequest, err.Error()))
}

// logOutcome appends one ApiLog row for a completed request, per §4.8
// step 9. It never aborts the request on a log-write failure — logging
// is best-effort observability, not a correctness gate.
func (h *Handlers) logOutcome(c *gin.Context, key *apikey.Key, path, source string, out gateway.Outcome, start time.Time) {
	row := apikey.LogRow{
		RequestID:    requestID(c),
		APIKeyID:     key.ID,
		CredentialID: out.CredentialID,
		Model:        out.Model,
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
		StatusCode:   out.StatusCode,
		DurationMS:   logging.DurationMS(time.Since(start)),
		Path:         path,
		Source:       source,
		CreatedAt:    time.Now(),
	}
	if err := h.Keys.AppendLog(c.Request.Context(), row); err != nil {
		log.WithError(err).Warn("handlers: failed to append api log row")
	}
}

func requestID(c *gin.Context) string {
	if v, ok := c.Get("request_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func clientIPString(c *gin.Context) string {
	return netutil.IPString(netutil.ExtractClientIP(c))
}

func authenticatedKey(c *gin.Context) (*apikey.Key, bool) {
	return gwmw.KeyFromContext(c)
}
