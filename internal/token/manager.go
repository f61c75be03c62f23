// file: internal/token/manager.go
// version: 1.2.0
// guid: 9e0f1a2b-3c4d-5e6f-7a8b-9c0d1e2f3a4b

package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// DefaultSkew is how long before expiry a held token is treated as stale and
// refreshed ahead of use.
const DefaultSkew = 30 * time.Second

// Issuer is the external token-issuance collaborator. Implementations return
// the signed token and its lifetime in seconds.
type Issuer interface {
	Issue(ctx context.Context, sfdID, userID string) (token string, expiresIn int, err error)
}

type cacheEntry struct {
	token     string
	userID    string
	issuedAt  time.Time
	expiresAt time.Time
}

// Manager holds one context token per SFD for the duration of a session and
// renews them transparently. Tokens live only in memory; they are superseded
// by refresh, never mutated, and never persisted. Safe for concurrent use.
//
// Two concurrent refreshes for the same SFD are tolerated: the later one
// overwrites the map entry and at worst one redundant issuance call occurs.
type Manager struct {
	mu     sync.RWMutex
	tokens map[string]cacheEntry

	issuer Issuer
	skew   time.Duration

	now func() time.Time
}

// NewManager creates a manager backed by the given issuer. Pass 0 for skew
// to use DefaultSkew.
func NewManager(issuer Issuer, skew time.Duration) *Manager {
	if skew <= 0 {
		skew = DefaultSkew
	}
	return &Manager{
		tokens: make(map[string]cacheEntry),
		issuer: issuer,
		skew:   skew,
		now:    time.Now,
	}
}

// GetToken returns a valid token for sfdID, refreshing first if the held one
// is absent or within the renewal skew of expiry. A token past its expiry is
// never returned.
func (m *Manager) GetToken(ctx context.Context, sfdID string) (string, error) {
	m.mu.RLock()
	e, ok := m.tokens[sfdID]
	m.mu.RUnlock()
	if ok && m.now().Add(m.skew).Before(e.expiresAt) {
		return e.token, nil
	}
	return m.RefreshToken(ctx, sfdID)
}

// RefreshTokenIfNeeded is a named entry point for call sites that pre-warm a
// token before a batch of calls. It behaves exactly like GetToken.
func (m *Manager) RefreshTokenIfNeeded(ctx context.Context, sfdID string) (string, error) {
	return m.GetToken(ctx, sfdID)
}

// RefreshToken unconditionally requests a new token for sfdID using the user
// recorded by the last issuance. The previous entry is left untouched on
// failure; refresh failures are the caller's policy decision, not this
// layer's.
func (m *Manager) RefreshToken(ctx context.Context, sfdID string) (string, error) {
	m.mu.RLock()
	userID := m.tokens[sfdID].userID
	m.mu.RUnlock()
	if userID == "" {
		return "", fmt.Errorf("no session user recorded for SFD %s; call GenerateTokenForSfd first", sfdID)
	}
	return m.issue(ctx, sfdID, userID)
}

// GenerateTokenForSfd issues a token for an explicit (sfdID, userID) pair.
// Used on first call after switching the active SFD, when no prior session
// token exists for the tenant.
func (m *Manager) GenerateTokenForSfd(ctx context.Context, sfdID, userID string) (string, error) {
	return m.issue(ctx, sfdID, userID)
}

func (m *Manager) issue(ctx context.Context, sfdID, userID string) (string, error) {
	tok, expiresIn, err := m.issuer.Issue(ctx, sfdID, userID)
	if err != nil {
		log.Printf("[WARN] token issuance failed for SFD %s: %v", sfdID, err)
		return "", err
	}
	if tok == "" {
		err := fmt.Errorf("issuer returned empty token for SFD %s", sfdID)
		log.Printf("[WARN] %v", err)
		return "", err
	}
	now := m.now()
	m.mu.Lock()
	m.tokens[sfdID] = cacheEntry{
		token:     tok,
		userID:    userID,
		issuedAt:  now,
		expiresAt: now.Add(time.Duration(expiresIn) * time.Second),
	}
	m.mu.Unlock()
	return tok, nil
}

// TokenExpiry returns the expiry of the held token for sfdID, or the zero
// time if none is held.
func (m *Manager) TokenExpiry(sfdID string) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.tokens[sfdID]; ok {
		return e.expiresAt
	}
	return time.Time{}
}

// HasValidToken reports whether a non-expired token is held for sfdID.
func (m *Manager) HasValidToken(sfdID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.tokens[sfdID]; ok {
		return m.now().Before(e.expiresAt)
	}
	return false
}

// Invalidate drops the held token for one SFD. The next call re-issues.
// Revocation is enforced server-side; this only forgets the local copy.
func (m *Manager) Invalidate(sfdID string) {
	m.mu.Lock()
	delete(m.tokens, sfdID)
	m.mu.Unlock()
}

// Clear drops every held token. Used on global sign-out.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.tokens = make(map[string]cacheEntry)
	m.mu.Unlock()
}

// HTTPIssuer requests context tokens from a remote issuance endpoint.
type HTTPIssuer struct {
	// Endpoint is the full URL of the token-issuance endpoint.
	Endpoint string
	// Client is the HTTP client to use. Defaults to a pooled client with a
	// 10 second timeout.
	Client *http.Client
}

type issueRequest struct {
	SfdID  string `json:"sfd_id"`
	UserID string `json:"user_id"`
}

type issueResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// NewHTTPIssuer creates an issuer for the given endpoint URL.
func NewHTTPIssuer(endpoint string) *HTTPIssuer {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = 10 * time.Second
	return &HTTPIssuer{Endpoint: endpoint, Client: client}
}

// Issue posts (sfdID, userID) to the endpoint and decodes the issued token.
// The token itself is treated as opaque.
func (h *HTTPIssuer) Issue(ctx context.Context, sfdID, userID string) (string, int, error) {
	body, err := json.Marshal(issueRequest{SfdID: sfdID, UserID: userID})
	if err != nil {
		return "", 0, fmt.Errorf("failed to marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
		client.Timeout = 10 * time.Second
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token endpoint returned HTTP %d", resp.StatusCode)
	}

	var out issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	if out.Token == "" {
		return "", 0, fmt.Errorf("token endpoint response missing token field")
	}
	return out.Token, out.ExpiresIn, nil
}
