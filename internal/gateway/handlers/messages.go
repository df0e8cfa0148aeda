package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/nullstack-gw/nexusgate/internal/errors"
	"github.com/nullstack-gw/nexusgate/internal/gateway/wire"
)

// ginSink adapts a gin response writer into a gateway.StreamSink, flushing
// after every frame so SSE clients see bytes as they're produced.
type ginSink struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s *ginSink) Write(frame []byte) error {
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}

// Messages handles POST /v1/messages, the Claude-style surface.
func (h *Handlers) Messages(c *gin.Context) {
	start := time.Now()
	key, ok := authenticatedKey(c)
	if !ok {
		abortAPIError(c, apperrors.NewKind(apperrors.KindAuthRequired, "API key not provided"))
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortBadRequest(c, err)
		return
	}
	normalized, err := wire.ParseClaudeRequest(body)
	if err != nil {
		abortBadRequest(c, err)
		return
	}

	messageID := newMessageID()
	clientModel := normalized.Model
	clientIP := clientIPString(c)

	if normalized.Stream {
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.WriteHeader(http.StatusOK)

		encoder := wire.NewClaudeSSEEncoder(messageID, clientModel)
		sink := &ginSink{w: c.Writer, f: c.Writer.(http.Flusher)}

		out := h.Pipeline.Run(c.Request.Context(), clientModel, normalized, clientIP, c.Request.Header, sink, encoder.Encode)
		h.logOutcome(c, key, "/v1/messages", "claude", out, start)
		return
	}

	out := h.Pipeline.Run(c.Request.Context(), clientModel, normalized, clientIP, c.Request.Header, nil, nil)
	h.logOutcome(c, key, "/v1/messages", "claude", out, start)
	if out.Err != nil {
		abortAPIError(c, asAPIError(out.Err))
		return
	}

	msg := wire.AccumulateClaudeMessage(messageID, out.Model, out.Events)
	msg.Usage.InputTokens = out.InputTokens
	msg.Usage.OutputTokens = out.OutputTokens
	c.JSON(http.StatusOK, msg)
}

func asAPIError(err error) *apperrors.APIError {
	if apiErr, ok := err.(*apperrors.APIError); ok {
		return apiErr
	}
	return apperrors.NewKind(apperrors.KindUpstream, err.Error())
}
