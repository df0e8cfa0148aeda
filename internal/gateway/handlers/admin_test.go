package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullstack-gw/nexusgate/internal/apikey"
	"github.com/nullstack-gw/nexusgate/internal/credential"
	"github.com/nullstack-gw/nexusgate/internal/storage/filestore"
)

func newTestAdminHandlers(t *testing.T) *AdminHandlers {
	t.Helper()
	gin.SetMode(gin.TestMode)
	backend := filestore.New(t.TempDir())
	require.NoError(t, backend.Initialize(context.Background()))
	t.Cleanup(func() { _ = backend.Close() })

	credMgr := credential.NewManager(backend, false)
	keyMgr := apikey.NewManager(backend)
	return NewAdminHandlers(credMgr, keyMgr)
}

func performRequest(h gin.HandlerFunc, method, path string, body []byte, params gin.Params) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	var reqBody *bytes.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	} else {
		reqBody = bytes.NewReader(nil)
	}
	c.Request = httptest.NewRequest(method, path, reqBody)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = params
	h(c)
	return rec
}

func TestCreateCredential_RejectsMissingFields(t *testing.T) {
	h := newTestAdminHandlers(t)
	rec := performRequest(h.CreateCredential, http.MethodPost, "/admin/credentials", []byte(`{}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateCredential_PersistsAndSanitizes(t *testing.T) {
	h := newTestAdminHandlers(t)
	body, _ := json.Marshal(createCredentialRequest{Provider: "kiro", AccessSecret: "secret-token"})
	rec := performRequest(h.CreateCredential, http.MethodPost, "/admin/credentials", body, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "kiro", out["provider"])
	assert.NotContains(t, out, "accessSecret")
	assert.Contains(t, out, "id")
}

func TestListCredentials_FiltersByProvider(t *testing.T) {
	h := newTestAdminHandlers(t)
	ctx := context.Background()
	require.NoError(t, h.Credentials.Add(ctx, &credential.Credential{Provider: credential.ProviderKiro, ID: "c1", Active: true}))
	require.NoError(t, h.Credentials.Add(ctx, &credential.Credential{Provider: credential.ProviderGemini, ID: "c2", Active: true}))

	rec := performRequest(h.ListCredentials, http.MethodGet, "/admin/credentials?provider=kiro", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out struct {
		Credentials []map[string]any `json:"credentials"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Credentials, 1)
	assert.Equal(t, "c1", out.Credentials[0]["id"])
}

func TestToggleAndDeleteCredential(t *testing.T) {
	h := newTestAdminHandlers(t)
	ctx := context.Background()
	require.NoError(t, h.Credentials.Add(ctx, &credential.Credential{Provider: credential.ProviderKiro, ID: "c1", Active: true}))

	rec := performRequest(h.ToggleCredential, http.MethodPost, "/admin/credentials/c1/toggle",
		[]byte(`{"active":false}`), gin.Params{{Key: "id", Value: "c1"}})
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, ok := h.Credentials.GetByID("c1")
	require.True(t, ok)
	assert.False(t, got.Active)

	rec = performRequest(h.DeleteCredential, http.MethodDelete, "/admin/credentials/c1", nil, gin.Params{{Key: "id", Value: "c1"}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok = h.Credentials.GetByID("c1")
	assert.False(t, ok)
}

func TestCreateKey_OnlyCreateReturnsPlaintext(t *testing.T) {
	h := newTestAdminHandlers(t)
	body, _ := json.Marshal(createKeyRequest{UserID: "u1", Name: "test key"})
	rec := performRequest(h.CreateKey, http.MethodPost, "/admin/keys", body, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created apikey.Key
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.KeyValue)

	listRec := performRequest(h.ListKeys, http.MethodGet, "/admin/keys", nil, nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var listed struct {
		Keys []apikey.Key `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listed))
	require.Len(t, listed.Keys, 1)
	assert.Empty(t, listed.Keys[0].KeyValue)
}

func TestToggleAndDeleteKey(t *testing.T) {
	h := newTestAdminHandlers(t)
	k, err := h.Keys.Create(context.Background(), "u1", "key", apikey.Limits{})
	require.NoError(t, err)

	rec := performRequest(h.ToggleKey, http.MethodPost, "/admin/keys/"+k.ID+"/toggle",
		[]byte(`{"active":false}`), gin.Params{{Key: "id", Value: k.ID}})
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := h.Keys.GetByID(context.Background(), k.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)

	rec = performRequest(h.DeleteKey, http.MethodDelete, "/admin/keys/"+k.ID, nil, gin.Params{{Key: "id", Value: k.ID}})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
