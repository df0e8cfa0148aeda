package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nullstack-gw/nexusgate/internal/apikey"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	apperrors "github.com/nullstack-gw/nexusgate/internal/errors"
)

// AdminHandlers implements the straightforward CRUD wrappers over C2
// (credentials) and the ApiKey table, gated behind middleware.AdminAuth.
// Grounded on the teacher's management.AdminAPIHandler's sanitized-JSON
// listing shape, trimmed to this gateway's credential/key data model.
type AdminHandlers struct {
	Credentials *credential.Manager
	Keys        *apikey.Manager
}

// NewAdminHandlers constructs an AdminHandlers.
func NewAdminHandlers(creds *credential.Manager, keys *apikey.Manager) *AdminHandlers {
	return &AdminHandlers{Credentials: creds, Keys: keys}
}

func sanitizeCredential(c *credential.Credential) gin.H {
	return gin.H{
		"id":          c.ID,
		"provider":    c.Provider,
		"displayName": c.DisplayName,
		"active":      c.Active,
		"useCount":    c.UseCount,
		"lastUsedAt":  c.LastUsedAt,
		"errorCount":  c.ErrorCount,
		"expiresAt":   c.ExpiresAt,
	}
}

// ListCredentials handles GET /admin/credentials, optionally filtered by
// ?provider=.
func (h *AdminHandlers) ListCredentials(c *gin.Context) {
	provider := credential.Provider(c.Query("provider"))
	creds := h.Credentials.List(provider)
	out := make([]gin.H, 0, len(creds))
	for _, cr := range creds {
		out = append(out, sanitizeCredential(cr))
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

type createCredentialRequest struct {
	Provider      string `json:"provider"`
	DisplayName   string `json:"displayName"`
	AccessSecret  string `json:"accessSecret"`
	RefreshSecret string `json:"refreshSecret"`
	ClientID      string `json:"clientId"`
	ClientSecret  string `json:"clientSecret"`
	ProfileARN    string `json:"profileArn"`
	Region        string `json:"region"`
	StartURL      string `json:"startUrl"`
	ProjectID     string `json:"projectId"`
	AuthMethod    string `json:"authMethod"`
}

// CreateCredential handles POST /admin/credentials.
func (h *AdminHandlers) CreateCredential(c *gin.Context) {
	var req createCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	if req.Provider == "" || req.AccessSecret == "" {
		abortBadRequest(c, errMissingField("provider, accessSecret"))
		return
	}
	cred := &credential.Credential{
		Provider:      credential.Provider(req.Provider),
		ID:            uuid.NewString(),
		DisplayName:   req.DisplayName,
		AccessSecret:  req.AccessSecret,
		RefreshSecret: req.RefreshSecret,
		ClientID:      req.ClientID,
		ClientSecret:  req.ClientSecret,
		ProfileARN:    req.ProfileARN,
		Region:        req.Region,
		StartURL:      req.StartURL,
		ProjectID:     req.ProjectID,
		AuthMethod:    req.AuthMethod,
		Active:        true,
	}
	if err := h.Credentials.Add(c.Request.Context(), cred); err != nil {
		abortAPIError(c, apperrors.NewKind(apperrors.KindUpstream, err.Error()))
		return
	}
	c.JSON(http.StatusCreated, sanitizeCredential(cred))
}

// ToggleCredential handles POST /admin/credentials/:id/toggle.
func (h *AdminHandlers) ToggleCredential(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBadRequest(c, err)
		return
	}
	if err := h.Credentials.ToggleActive(c.Request.Context(), id, body.Active); err != nil {
		abortAPIError(c, apperrors.NewKind(apperrors.KindBadRequest, err.Error()))
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteCredential handles DELETE /admin/credentials/:id.
func (h *AdminHandlers) DeleteCredential(c *gin.Context) {
	if err := h.Credentials.Delete(c.Request.Context(), c.Param("id")); err != nil {
		abortAPIError(c, apperrors.NewKind(apperrors.KindBadRequest, err.Error()))
		return
	}
	c.Status(http.StatusNoContent)
}

type createKeyRequest struct {
	UserID string        `json:"userId"`
	Name   string        `json:"name"`
	Limits apikey.Limits `json:"limits"`
}

// CreateKey handles POST /admin/keys, the only moment a key's plaintext
// is ever returned to a caller.
func (h *AdminHandlers) CreateKey(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err)
		return
	}
	k, err := h.Keys.Create(c.Request.Context(), req.UserID, req.Name, req.Limits)
	if err != nil {
		abortAPIError(c, apperrors.NewKind(apperrors.KindUpstream, err.Error()))
		return
	}
	c.JSON(http.StatusCreated, k)
}

// ListKeys handles GET /admin/keys.
func (h *AdminHandlers) ListKeys(c *gin.Context) {
	keys, err := h.Keys.List(c.Request.Context())
	if err != nil {
		abortAPIError(c, apperrors.NewKind(apperrors.KindUpstream, err.Error()))
		return
	}
	for _, k := range keys {
		k.KeyValue = ""
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

// ToggleKey handles POST /admin/keys/:id/toggle.
func (h *AdminHandlers) ToggleKey(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Active bool `json:"active"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		abortBadRequest(c, err)
		return
	}
	if err := h.Keys.ToggleActive(c.Request.Context(), id, body.Active); err != nil {
		abortAPIError(c, apperrors.NewKind(apperrors.KindBadRequest, err.Error()))
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteKey handles DELETE /admin/keys/:id.
func (h *AdminHandlers) DeleteKey(c *gin.Context) {
	if err := h.Keys.Delete(c.Request.Context(), c.Param("id")); err != nil {
		abortAPIError(c, apperrors.NewKind(apperrors.KindBadRequest, err.Error()))
		return
	}
	c.Status(http.StatusNoContent)
}

func errMissingField(fields string) error {
	return &missingFieldError{fields: fields}
}

type missingFieldError struct{ fields string }

func (e *missingFieldError) Error() string { return "missing required field(s): " + e.fields }
