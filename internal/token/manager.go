// Package token implements the Token Manager (C3): expiry tracking plus
// proactive/reactive refresh across the five auth-method variants the
// gateway's upstreams use. Grounded on the teacher's internal/oauth.Manager
// (its RefreshToken form-POST shape, response decoding, and now-func
// injection for testability) and generalized from a single Google-OAuth
// flow to the full per-provider auth matrix.
package token

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/nullstack-gw/nexusgate/internal/credential"
)

// AuthMethod identifies one of the five refresh variants from §4.2's
// per-provider auth matrix.
type AuthMethod string

const (
	MethodSocial         AuthMethod = "social"
	MethodBuilderID      AuthMethod = "builder-id"
	MethodIdC            AuthMethod = "idc"
	MethodGoogle         AuthMethod = "google"
	MethodServiceAccount AuthMethod = "service-account"
)

// endpointTemplates holds the refresh-URL template per auth method; {region}
// is substituted from the credential's Region field where applicable.
var endpointTemplates = map[AuthMethod]string{
	MethodSocial:         "https://oidc.{region}.amazonaws.com/refresh",
	MethodBuilderID:      "https://oidc.{region}.amazonaws.com/token",
	MethodIdC:            "https://oidc.{region}.amazonaws.com/token",
	MethodGoogle:         "https://oauth2.googleapis.com/token",
	MethodServiceAccount: "https://oauth2.googleapis.com/token",
}

const serviceAccountSafetyMargin = 60 * time.Second

// serviceAccountKey is the subset of a Google service-account JSON key this
// manager needs to mint a JWT-bearer assertion.
type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

// Manager refreshes credentials through their provider's auth method and
// persists the result through credential.Manager.
type Manager struct {
	credentials         *credential.Manager
	httpClient          *http.Client
	now                 func() time.Time
	quarantineThreshold int

	saMu    sync.Mutex
	saCache map[string]cachedToken
}

// NewManager constructs a Manager backed by creds for persistence.
// quarantineThreshold is the consecutive-error count (from the active
// SelectionConfig) at which a refresh-failing credential is moved to
// ErrorCredential by C2.
func NewManager(creds *credential.Manager, quarantineThreshold int) *Manager {
	return &Manager{
		credentials:         creds,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
		now:                 time.Now,
		quarantineThreshold: quarantineThreshold,
		saCache:             make(map[string]cachedToken),
	}
}

// IsExpiringSoon reports whether expiresAt is within threshold of now,
// per §4.2's exact inequality.
func (m *Manager) IsExpiringSoon(expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return !expiresAt.After(m.now().Add(threshold))
}

// EnsureValid refreshes cred only if it is expiring within threshold.
func (m *Manager) EnsureValid(ctx context.Context, cred *credential.Credential, threshold time.Duration) error {
	if !m.IsExpiringSoon(cred.ExpiresAt, threshold) {
		return nil
	}
	return m.Refresh(ctx, cred)
}

// Refresh unconditionally refreshes cred and persists the rotated secrets.
// On failure it records the error against the credential, moves the
// credential to the error set once its error count reaches
// quarantineThreshold, and returns the error so the caller (C5/C8) can
// retry.
func (m *Manager) Refresh(ctx context.Context, cred *credential.Credential) error {
	method := AuthMethod(cred.AuthMethod)

	var result refreshResult
	var err error
	switch method {
	case MethodSocial:
		result, err = m.refreshSocial(ctx, cred)
	case MethodBuilderID, MethodIdC:
		result, err = m.refreshOIDC(ctx, cred, method)
	case MethodGoogle:
		result, err = m.refreshGoogle(ctx, cred)
	case MethodServiceAccount:
		result, err = m.refreshServiceAccount(ctx, cred)
	default:
		err = fmt.Errorf("token: unknown auth method %q", cred.AuthMethod)
	}

	if err != nil {
		crossed, recErr := m.credentials.RecordErrorCount(ctx, cred.ID, err.Error(), m.quarantineThreshold)
		if recErr != nil {
			return fmt.Errorf("token: refresh failed (%w) and recording it also failed: %v", err, recErr)
		}
		if crossed {
			if moveErr := m.credentials.MoveToError(ctx, cred.ID, err.Error()); moveErr != nil {
				return fmt.Errorf("token: refresh failed (%w) and quarantine also failed: %v", err, moveErr)
			}
		}
		return fmt.Errorf("token: refresh failed for %s: %w", cred.ID, err)
	}

	return m.credentials.Update(ctx, cred.ID, func(c *credential.Credential) {
		c.AccessSecret = result.AccessToken
		if result.RefreshToken != "" {
			c.RefreshSecret = result.RefreshToken
		}
		if !result.ExpiresAt.IsZero() {
			c.ExpiresAt = result.ExpiresAt
		}
	})
}

type refreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func substituteRegion(template, region string) string {
	if region == "" {
		region = "us-east-1"
	}
	return strings.ReplaceAll(template, "{region}", region)
}

// refreshSocial posts {refreshToken} only and expects accessToken,
// refreshToken?, expiresAt? in the response, per §4.2.
func (m *Manager) refreshSocial(ctx context.Context, cred *credential.Credential) (refreshResult, error) {
	endpoint := substituteRegion(endpointTemplates[MethodSocial], cred.Region)
	body, err := json.Marshal(map[string]string{"refreshToken": cred.RefreshSecret})
	if err != nil {
		return refreshResult{}, err
	}
	raw, err := m.postJSON(ctx, endpoint, body, nil)
	if err != nil {
		return refreshResult{}, err
	}
	return refreshResult{
		AccessToken:  gjson.GetBytes(raw, "accessToken").String(),
		RefreshToken: gjson.GetBytes(raw, "refreshToken").String(),
		ExpiresAt:    parseExpiresAt(raw, m.now()),
	}, nil
}

// refreshOIDC covers builder-id and IdC, which share request/response
// shape per §4.2 ("same as builder-id").
func (m *Manager) refreshOIDC(ctx context.Context, cred *credential.Credential, method AuthMethod) (refreshResult, error) {
	endpoint := substituteRegion(endpointTemplates[method], cred.Region)
	body, err := json.Marshal(map[string]string{
		"refreshToken": cred.RefreshSecret,
		"clientId":     cred.ClientID,
		"clientSecret": cred.ClientSecret,
		"grantType":    "refresh_token",
	})
	if err != nil {
		return refreshResult{}, err
	}
	raw, err := m.postJSON(ctx, endpoint, body, nil)
	if err != nil {
		return refreshResult{}, err
	}
	return decodeAliased(raw, m.now()), nil
}

// refreshGoogle performs a standard OAuth 2.0 refresh-token exchange
// against Google's token endpoint (Gemini credentials) via golang.org/x/
// oauth2's TokenSource, the same library the teacher's oauth.Manager uses
// for its authorization-code flow.
func (m *Manager) refreshGoogle(ctx context.Context, cred *credential.Credential) (refreshResult, error) {
	if cred.RefreshSecret == "" {
		return refreshResult{}, fmt.Errorf("no refresh token available")
	}
	cfg := &oauth2.Config{
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: endpointTemplates[MethodGoogle]},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	newToken, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshSecret}).Token()
	if err != nil {
		return refreshResult{}, fmt.Errorf("google oauth refresh: %w", err)
	}
	return refreshResult{
		AccessToken:  newToken.AccessToken,
		RefreshToken: newToken.RefreshToken,
		ExpiresAt:    newToken.Expiry,
	}, nil
}

// refreshServiceAccount mints and exchanges an RSA-SHA256-signed JWT-bearer
// assertion per §4.2, caching the resulting access token in-memory with a
// 60-second safety margin so repeated EnsureValid calls don't re-mint a JWT
// every request.
func (m *Manager) refreshServiceAccount(ctx context.Context, cred *credential.Credential) (refreshResult, error) {
	m.saMu.Lock()
	if cached, ok := m.saCache[cred.ID]; ok && m.now().Before(cached.expiresAt.Add(-serviceAccountSafetyMargin)) {
		m.saMu.Unlock()
		return refreshResult{AccessToken: cached.accessToken, ExpiresAt: cached.expiresAt}, nil
	}
	m.saMu.Unlock()

	var key serviceAccountKey
	if err := json.Unmarshal([]byte(cred.AccessSecret), &key); err != nil {
		return refreshResult{}, fmt.Errorf("parsing service-account key: %w", err)
	}
	tokenURI := key.TokenURI
	if tokenURI == "" {
		tokenURI = endpointTemplates[MethodServiceAccount]
	}

	privateKey, err := parseRSAPrivateKey(key.PrivateKey)
	if err != nil {
		return refreshResult{}, fmt.Errorf("parsing service-account private key: %w", err)
	}

	now := m.now()
	claims := jwt.MapClaims{
		"iss":   key.ClientEmail,
		"scope": "https://www.googleapis.com/auth/cloud-platform",
		"aud":   tokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(privateKey)
	if err != nil {
		return refreshResult{}, fmt.Errorf("signing JWT-bearer assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	raw, err := m.postForm(ctx, tokenURI, form)
	if err != nil {
		return refreshResult{}, err
	}
	result := decodeAliased(raw, now)

	m.saMu.Lock()
	m.saCache[cred.ID] = cachedToken{accessToken: result.AccessToken, expiresAt: result.ExpiresAt}
	m.saMu.Unlock()

	return result, nil
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

// decodeAliased tolerates both camelCase and snake_case response fields and
// derives expiresAt from expiresIn/expires_in when an absolute timestamp is
// absent, per §4.2.
func decodeAliased(raw []byte, now time.Time) refreshResult {
	accessToken := firstNonEmpty(
		gjson.GetBytes(raw, "accessToken").String(),
		gjson.GetBytes(raw, "access_token").String(),
	)
	refreshToken := firstNonEmpty(
		gjson.GetBytes(raw, "refreshToken").String(),
		gjson.GetBytes(raw, "refresh_token").String(),
	)
	expiresAt := parseExpiresAt(raw, now)
	return refreshResult{AccessToken: accessToken, RefreshToken: refreshToken, ExpiresAt: expiresAt}
}

func parseExpiresAt(raw []byte, now time.Time) time.Time {
	if ts := firstNonEmpty(
		gjson.GetBytes(raw, "expiresAt").String(),
		gjson.GetBytes(raw, "expires_at").String(),
	); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			return parsed
		}
	}
	for _, field := range []string{"expiresIn", "expires_in"} {
		if v := gjson.GetBytes(raw, field); v.Exists() {
			seconds := v.Int()
			if seconds > 0 {
				return now.Add(time.Duration(seconds) * time.Second)
			}
		}
	}
	return time.Time{}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (m *Manager) postJSON(ctx context.Context, endpoint string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return m.do(req)
}

func (m *Manager) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return m.do(req)
}

func (m *Manager) do(req *http.Request) ([]byte, error) {
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading refresh response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh endpoint returned %d: %s", resp.StatusCode, truncate(raw, 500))
	}
	return raw, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
