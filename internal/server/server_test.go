// file: internal/server/server_test.go
// version: 1.2.0
// guid: 0d1e2f3a-4b5c-6d7e-8f9a-0b1c2d3e4f5a

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sahelmfi/sfd-gateway/internal/cache"
	"github.com/sahelmfi/sfd-gateway/internal/gateway"
	"github.com/sahelmfi/sfd-gateway/internal/registry"
	"github.com/sahelmfi/sfd-gateway/internal/token"
)

const testDirectory = `
sfds:
  - id: sfd-bamako
    name: Caisse Bamako
    base_url: https://api.bamako.example.org
  - id: sfd-segou
    name: Caisse Segou
    base_url: https://api.segou.example.org
    disabled: true
`

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sfds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testDirectory), 0o644))
	r, err := registry.Load(path)
	require.NoError(t, err)
	return r
}

func testIssuer() *token.LocalIssuer {
	return token.NewLocalIssuer([]byte("test-secret"), time.Hour)
}

// newTestServer wires a daemon whose gateway talks to the given upstream
// handler. Rate limiting is generous so ordinary tests never trip it.
func newTestServer(t *testing.T, upstream http.Handler) (*Server, *httptest.Server) {
	t.Helper()
	backend := httptest.NewServer(upstream)
	t.Cleanup(backend.Close)

	issuer := testIssuer()
	gw, err := gateway.NewClient(gateway.Options{
		BaseURL: backend.URL,
		Cache:   cache.New(time.Minute),
		Tokens:  token.NewManager(managerIssuer{issuer}, 30*time.Second),
	})
	require.NoError(t, err)

	return NewServer(Deps{
		Gateway:            gw,
		Registry:           testRegistry(t),
		Issuer:             issuer,
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
	}), backend
}

// managerIssuer adapts LocalIssuer to the manager's context-aware interface.
type managerIssuer struct {
	local *token.LocalIssuer
}

func (m managerIssuer) Issue(_ context.Context, sfdID, userID string) (string, int, error) {
	return m.local.Sign(sfdID, userID)
}

func doRequest(s *Server, method, path string, headers map[string]string, body string) *httptest.ResponseRecorder {
	var rdr *strings.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	} else {
		rdr = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rdr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func signedFor(t *testing.T, sfdID string) string {
	t.Helper()
	signed, _, err := testIssuer().Sign(sfdID, "agent-1")
	require.NoError(t, err)
	return signed
}

func TestHealthCheck(t *testing.T) {
	s, _ := newTestServer(t, http.NotFoundHandler())
	w := doRequest(s, http.MethodGet, "/api/v1/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestListAndGetSfds(t *testing.T) {
	s, _ := newTestServer(t, http.NotFoundHandler())

	w := doRequest(s, http.MethodGet, "/api/v1/sfds", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sfd-bamako")
	assert.Contains(t, w.Body.String(), "sfd-segou")

	w = doRequest(s, http.MethodGet, "/api/v1/sfds/sfd-bamako", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Caisse Bamako")

	w = doRequest(s, http.MethodGet, "/api/v1/sfds/sfd-nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestIssueToken(t *testing.T) {
	s, _ := newTestServer(t, http.NotFoundHandler())

	w := doRequest(s, http.MethodPost, "/api/v1/tokens",
		map[string]string{"Content-Type": "application/json"},
		`{"sfd_id":"sfd-bamako","user_id":"agent-1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Greater(t, resp.ExpiresIn, 0)

	claims, err := token.ParseClaims(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "sfd-bamako", claims.SfdID)
	assert.Equal(t, "agent-1", claims.UserID)
}

func TestIssueTokenDisabledSfd(t *testing.T) {
	s, _ := newTestServer(t, http.NotFoundHandler())
	w := doRequest(s, http.MethodPost, "/api/v1/tokens",
		map[string]string{"Content-Type": "application/json"},
		`{"sfd_id":"sfd-segou","user_id":"agent-1"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestIssueTokenMissingFields(t *testing.T) {
	s, _ := newTestServer(t, http.NotFoundHandler())
	w := doRequest(s, http.MethodPost, "/api/v1/tokens",
		map[string]string{"Content-Type": "application/json"},
		`{"sfd_id":"sfd-bamako"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProxyForwardsAndCaches(t *testing.T) {
	calls := 0
	s, _ := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "sfd-bamako", r.Header.Get("X-SFD-ID"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"clients":[{"id":1}]}`))
	}))

	headers := map[string]string{
		"X-SFD-ID":    "sfd-bamako",
		"X-SFD-TOKEN": signedFor(t, "sfd-bamako"),
	}

	w := doRequest(s, http.MethodGet, "/api/v1/proxy/clients", headers, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"clients"`)
	assert.Empty(t, w.Header().Get("X-From-Cache"))

	w = doRequest(s, http.MethodGet, "/api/v1/proxy/clients", headers, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-From-Cache"))
	assert.Equal(t, 1, calls)
}

func TestProxyRejectsDisabledSfd(t *testing.T) {
	s, _ := newTestServer(t, http.NotFoundHandler())
	w := doRequest(s, http.MethodGet, "/api/v1/proxy/clients", map[string]string{
		"X-SFD-ID":    "sfd-segou",
		"X-SFD-TOKEN": signedFor(t, "sfd-segou"),
	}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestProxyMapsPermissionError(t *testing.T) {
	s, _ := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"insufficient rights"}`, http.StatusForbidden)
	}))
	w := doRequest(s, http.MethodGet, "/api/v1/proxy/loans", map[string]string{
		"X-SFD-ID":    "sfd-bamako",
		"X-SFD-TOKEN": signedFor(t, "sfd-bamako"),
	}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"permission"`)
}

func TestProxyMapsTransportError(t *testing.T) {
	issuer := testIssuer()
	gw, err := gateway.NewClient(gateway.Options{
		BaseURL: "http://127.0.0.1:1",
		Cache:   cache.New(time.Minute),
		Tokens:  token.NewManager(managerIssuer{issuer}, 30*time.Second),
	})
	require.NoError(t, err)
	s := NewServer(Deps{
		Gateway:            gw,
		Registry:           testRegistry(t),
		Issuer:             issuer,
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
	})

	w := doRequest(s, http.MethodGet, "/api/v1/proxy/clients", map[string]string{
		"X-SFD-ID":    "sfd-bamako",
		"X-SFD-TOKEN": signedFor(t, "sfd-bamako"),
	}, "")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"transport"`)
}

func TestCacheStatusAndClear(t *testing.T) {
	s, _ := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	headers := map[string]string{
		"X-SFD-ID":    "sfd-bamako",
		"X-SFD-TOKEN": signedFor(t, "sfd-bamako"),
	}
	doRequest(s, http.MethodGet, "/api/v1/proxy/clients", headers, "")

	w := doRequest(s, http.MethodGet, "/api/v1/cache/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var status cache.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 1, status.TotalEntries)

	w = doRequest(s, http.MethodPost, "/api/v1/cache/clear?sfd=sfd-bamako", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(s, http.MethodGet, "/api/v1/cache/status", nil, "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 0, status.TotalEntries)
}

func TestTokenStatus(t *testing.T) {
	s, _ := newTestServer(t, http.NotFoundHandler())

	w := doRequest(s, http.MethodGet, "/api/v1/tokens/sfd-bamako", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"valid":false`)
}

func TestBatchForwarding(t *testing.T) {
	var gotPath string
	s, _ := newTestServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"results":[{"status":"ok"}]}`))
	}))

	body := `{"reference":"disb-2026-001","operations":[{"method":"POST","endpoint":"/loans/42/disburse","payload":{"amount":150000}}]}`
	w := doRequest(s, http.MethodPost, "/api/v1/transactions/batch", map[string]string{
		"X-SFD-ID":     "sfd-bamako",
		"X-SFD-TOKEN":  signedFor(t, "sfd-bamako"),
		"Content-Type": "application/json",
	}, body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"results"`)
	assert.Equal(t, "/transactions/batch", gotPath)
}

func TestRateLimit(t *testing.T) {
	issuer := testIssuer()
	gw, err := gateway.NewClient(gateway.Options{
		BaseURL: "http://127.0.0.1:1",
		Cache:   cache.New(time.Minute),
		Tokens:  token.NewManager(managerIssuer{issuer}, 30*time.Second),
	})
	require.NoError(t, err)
	s := NewServer(Deps{
		Gateway:            gw,
		Registry:           testRegistry(t),
		Issuer:             issuer,
		RateLimitPerSecond: 1,
		RateLimitBurst:     1,
	})

	headers := map[string]string{"X-SFD-ID": "sfd-bamako"}
	first := doRequest(s, http.MethodGet, "/api/v1/cache/status", headers, "")
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(s, http.MethodGet, "/api/v1/cache/status", headers, "")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	// A different tenant has its own bucket.
	other := doRequest(s, http.MethodGet, "/api/v1/cache/status",
		map[string]string{"X-SFD-ID": "sfd-segou"}, "")
	assert.Equal(t, http.StatusOK, other.Code)
}
