package httpformat

import (
	"net/http"
	"strings"

	apperrors "github.com/nullstack-gw/nexusgate/internal/errors"

	"github.com/gin-gonic/gin"
)

// DetectFromContext determines the error format based on the gin context path.
func DetectFromContext(c *gin.Context) apperrors.ErrorFormat {
	if c == nil {
		return apperrors.FormatClaude
	}
	if path := c.FullPath(); path != "" {
		return DetectFromPath(path)
	}
	return DetectFromRequest(c.Request)
}

// DetectFromRequest determines the error format using an HTTP request.
func DetectFromRequest(r *http.Request) apperrors.ErrorFormat {
	if r == nil || r.URL == nil {
		return apperrors.FormatClaude
	}
	return DetectFromPath(r.URL.Path)
}

// DetectFromPath determines the error format based on a raw path string.
//
// /v1/messages is Claude-style, /v1/chat/completions is OpenAI-style; any
// other surface defaults to Claude since it is this gateway's native shape.
func DetectFromPath(path string) apperrors.ErrorFormat {
	path = strings.ToLower(path)
	if strings.Contains(path, "/v1/chat/completions") {
		return apperrors.FormatOpenAI
	}
	if strings.Contains(path, "/v1/messages") {
		return apperrors.FormatClaude
	}
	return apperrors.FormatClaude
}
