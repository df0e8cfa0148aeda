package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/nullstack-gw/nexusgate/internal/errors"
	"github.com/nullstack-gw/nexusgate/internal/gateway/wire"
)

// ChatCompletions handles POST /v1/chat/completions, the OpenAI-style
// surface. It reuses the Claude-style accumulation and re-projects it
// into OpenAI's response shape, since both surfaces share one normalized
// pipeline (§4.8).
func (h *Handlers) ChatCompletions(c *gin.Context) {
	start := time.Now()
	nowUnix := start.Unix()
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
	normalized, err := wire.ParseOpenAIRequest(body)
	if err != nil {
		abortBadRequest(c, err)
		return
	}

	completionID := newCompletionID()
	clientModel := normalized.Model
	clientIP := clientIPString(c)

	if normalized.Stream {
		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.WriteHeader(http.StatusOK)

		encoder := wire.NewOpenAISSEEncoder(completionID, clientModel, nowUnix)
		sink := &ginSink{w: c.Writer, f: c.Writer.(http.Flusher)}

		out := h.Pipeline.Run(c.Request.Context(), clientModel, normalized, clientIP, c.Request.Header, sink, encoder.Encode)
		h.logOutcome(c, key, "/v1/chat/completions", "openai", out, start)
		return
	}

	out := h.Pipeline.Run(c.Request.Context(), clientModel, normalized, clientIP, c.Request.Header, nil, nil)
	h.logOutcome(c, key, "/v1/chat/completions", "openai", out, start)
	if out.Err != nil {
		abortAPIError(c, asAPIError(out.Err))
		return
	}

	msg := wire.AccumulateClaudeMessage(completionID, out.Model, out.Events)
	msg.Usage.InputTokens = out.InputTokens
	msg.Usage.OutputTokens = out.OutputTokens
	c.JSON(http.StatusOK, wire.FromClaudeMessage(completionID, nowUnix, msg))
}
