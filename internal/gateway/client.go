// file: internal/gateway/client.go
// version: 1.4.0
// guid: 0d1e2f3a-4b5c-6d7e-8f9a-0b1c2d3e4f5a

// Package gateway is the single choke point through which every
// tenant-scoped API call passes. It composes the TTL cache and the context
// token manager and guarantees that every call is both authorized and
// observable: tokens are refreshed ahead of expiry, idempotent GETs are
// served from cache when possible, and every attempt emits exactly one
// audit record.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/sahelmfi/sfd-gateway/internal/audit"
	"github.com/sahelmfi/sfd-gateway/internal/cache"
	"github.com/sahelmfi/sfd-gateway/internal/metrics"
	"github.com/sahelmfi/sfd-gateway/internal/token"
)

// DefaultTimeout bounds every network dispatch. A timeout is a transport
// failure, not a server failure.
const DefaultTimeout = 10 * time.Second

// Request describes one tenant-scoped call. SfdID and Token are required;
// the call fails immediately without them.
type Request struct {
	SfdID    string
	Token    string
	Method   string
	Endpoint string            // path under the gateway base URL, e.g. "/loans"
	Body     any               // marshaled as JSON when non-nil
	Params   map[string]string // query parameters
	Role     string            // optional, sent as X-User-Role

	// OnTokenRefreshed is invoked when the pipeline replaced a stale token,
	// so the caller can persist the fresh one for future calls.
	OnTokenRefreshed func(newToken string)

	action string // audit action override, set by DoBatch
}

// Response is the parsed outcome of a successful call.
type Response struct {
	StatusCode     int
	Body           json.RawMessage
	FromCache      bool   // served from cache; no network dispatch occurred
	TokenRefreshed bool   // the pipeline substituted a fresh token
	Token          string // the token the call was (or would have been) sent with
}

// callState carries a call through the stage pipeline.
type callState struct {
	req       *Request
	token     string
	refreshed bool
	cacheKey  string
	fromCache bool
	cached    json.RawMessage
}

// requestStage transforms call state before dispatch. Returning an error
// aborts the call. Stages run strictly in pipeline order.
type requestStage struct {
	name string
	run  func(ctx context.Context, st *callState) error
}

// responseStage observes/records the outcome after dispatch (or after a
// cache short-circuit). Stages must not fail the call.
type responseStage struct {
	name string
	run  func(ctx context.Context, st *callState, resp *Response)
}

// Options configures a Client. Zero values get sensible defaults.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Cache      *cache.Cache
	Tokens     *token.Manager
	Sink       audit.Sink
	Skew       time.Duration // how close to expiry a token is refreshed
}

// Client issues tenant-scoped calls through an explicit middleware pipeline:
// validate -> resolve token -> consult cache -> dispatch (or short-circuit),
// then populate cache -> audit.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *cache.Cache
	tokens  *token.Manager
	sink    audit.Sink
	skew    time.Duration

	requestStages  []requestStage
	responseStages []responseStage

	now func() time.Time
}

// NewClient creates a gateway client. BaseURL is required.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("gateway: BaseURL is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
		httpClient.Timeout = DefaultTimeout
	}
	sink := opts.Sink
	if sink == nil {
		sink = audit.LogSink{}
	}
	cc := opts.Cache
	if cc == nil {
		cc = cache.New(0)
	}
	skew := opts.Skew
	if skew <= 0 {
		skew = token.DefaultSkew
	}

	metrics.Register()

	c := &Client{
		baseURL: opts.BaseURL,
		http:    httpClient,
		cache:   cc,
		tokens:  opts.Tokens,
		sink:    sink,
		skew:    skew,
		now:     time.Now,
	}
	c.requestStages = []requestStage{
		{name: "validate", run: c.validateStage},
		{name: "resolve_token", run: c.resolveTokenStage},
		{name: "check_cache", run: c.checkCacheStage},
	}
	c.responseStages = []responseStage{
		{name: "store_cache", run: c.storeCacheStage},
		{name: "audit", run: c.auditStage},
	}
	return c, nil
}

// Cache exposes the underlying TTL cache for non-HTTP memoization needs and
// for lifecycle management (ClearSfd on tenant switch, ClearAll on
// sign-out).
func (c *Client) Cache() *cache.Cache { return c.cache }

// Tokens exposes the context token manager, or nil when the client was
// built without one.
func (c *Client) Tokens() *token.Manager { return c.tokens }

// validateStage rejects calls missing tenant context. This is a programmer
// error and is never silently defaulted.
func (c *Client) validateStage(_ context.Context, st *callState) error {
	if st.req.SfdID == "" {
		return &Error{Kind: KindConfig, Op: st.op(), Wrapped: fmt.Errorf("missing SFD id")}
	}
	if st.req.Token == "" {
		return &Error{Kind: KindConfig, Op: st.op(), Wrapped: fmt.Errorf("missing context token")}
	}
	return nil
}

// resolveTokenStage refreshes the held token when it is near or past
// expiry. Refresh failure is non-fatal: the call proceeds with the original
// token and the server remains the final authority on its validity.
func (c *Client) resolveTokenStage(ctx context.Context, st *callState) error {
	if c.tokens == nil {
		return nil
	}
	if !token.ExpiresWithin(st.token, c.skew, c.now()) {
		return nil
	}
	fresh, err := c.tokens.GetToken(ctx, st.req.SfdID)
	if err != nil {
		metrics.IncTokenRefresh("failure")
		log.Printf("[WARN] token refresh failed for SFD %s, proceeding with held token: %v", st.req.SfdID, err)
		return nil
	}
	metrics.IncTokenRefresh("success")
	if fresh != st.token {
		st.token = fresh
		st.refreshed = true
		if st.req.OnTokenRefreshed != nil {
			st.req.OnTokenRefreshed(fresh)
		}
	}
	return nil
}

// checkCacheStage short-circuits idempotent reads that already have an
// unexpired cached response.
func (c *Client) checkCacheStage(_ context.Context, st *callState) error {
	if st.req.Method != http.MethodGet {
		return nil
	}
	st.cacheKey = cacheKey(st.req.Endpoint, st.req.Params)
	if v, ok := c.cache.Get(st.req.SfdID, st.cacheKey); ok {
		if body, ok := v.(json.RawMessage); ok {
			st.fromCache = true
			st.cached = body
			metrics.IncCacheHit()
			return nil
		}
	}
	metrics.IncCacheMiss()
	return nil
}

// storeCacheStage populates the cache after a successful live GET.
func (c *Client) storeCacheStage(_ context.Context, st *callState, resp *Response) {
	if st.req.Method != http.MethodGet || resp.FromCache {
		return
	}
	c.cache.Set(st.req.SfdID, st.cacheKey, resp.Body)
	metrics.SetCacheEntries(c.cache.GetStatus().TotalEntries)
}

// auditStage emits the success record for a completed call.
func (c *Client) auditStage(ctx context.Context, st *callState, resp *Response) {
	c.sink.Emit(ctx, audit.Record{
		SfdID:          st.req.SfdID,
		UserID:         tokenUser(st.token),
		Action:         st.action(),
		Category:       "gateway",
		Severity:       audit.SeverityInfo,
		Status:         audit.StatusSuccess,
		TargetResource: st.req.Endpoint,
		Details: map[string]any{
			"method":          st.req.Method,
			"from_cache":      resp.FromCache,
			"status_code":     resp.StatusCode,
			"token_refreshed": resp.TokenRefreshed,
		},
	})
}

func (st *callState) op() string {
	return st.req.Method + " " + st.req.Endpoint
}

func (st *callState) action() string {
	if st.req.action != "" {
		return st.req.action
	}
	return "api_call"
}

// tokenUser extracts the acting user from a context token for audit
// attribution. Opaque tokens attribute to "unknown".
func tokenUser(tok string) string {
	claims, err := token.ParseClaims(tok)
	if err != nil || claims.UserID == "" {
		return "unknown"
	}
	return claims.UserID
}

// cacheKey derives the cache key from the endpoint and its query
// parameters. url.Values.Encode sorts keys, so parameter order never splits
// the cache.
func cacheKey(endpoint string, params map[string]string) string {
	if len(params) == 0 {
		return endpoint
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return endpoint + "?" + values.Encode()
}

// Do runs one call through the pipeline. On failure it returns a typed
// *Error and emits a failure audit record; it never swallows a failure
// silently.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	start := c.now()
	st := &callState{req: req, token: req.Token}

	metrics.IncRequestStarted(req.Method)

	for _, stage := range c.requestStages {
		if err := stage.run(ctx, st); err != nil {
			return nil, c.fail(ctx, st, err)
		}
	}

	if st.fromCache {
		resp := &Response{
			StatusCode:     http.StatusOK,
			Body:           st.cached,
			FromCache:      true,
			TokenRefreshed: st.refreshed,
			Token:          st.token,
		}
		for _, stage := range c.responseStages {
			stage.run(ctx, st, resp)
		}
		metrics.IncRequestCompleted(req.Method)
		metrics.ObserveRequestDuration(req.Method, c.now().Sub(start))
		return resp, nil
	}

	resp, err := c.dispatch(ctx, st)
	if err != nil {
		return nil, c.fail(ctx, st, err)
	}

	for _, stage := range c.responseStages {
		stage.run(ctx, st, resp)
	}
	metrics.IncRequestCompleted(req.Method)
	metrics.ObserveRequestDuration(req.Method, c.now().Sub(start))
	return resp, nil
}

// dispatch performs the actual network call.
func (c *Client) dispatch(ctx context.Context, st *callState) (*Response, error) {
	var body io.Reader
	if st.req.Body != nil {
		b, err := json.Marshal(st.req.Body)
		if err != nil {
			return nil, &Error{Kind: KindConfig, Op: st.op(), Wrapped: fmt.Errorf("failed to marshal request body: %w", err)}
		}
		body = bytes.NewReader(b)
	}

	uri := c.baseURL + st.req.Endpoint
	if len(st.req.Params) > 0 {
		values := url.Values{}
		for k, v := range st.req.Params {
			values.Set(k, v)
		}
		uri += "?" + values.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, st.req.Method, uri, body)
	if err != nil {
		return nil, &Error{Kind: KindConfig, Op: st.op(), Wrapped: err}
	}
	if st.req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("X-SFD-ID", st.req.SfdID)
	httpReq.Header.Set("X-SFD-TOKEN", st.token)
	httpReq.Header.Set("Authorization", "Bearer "+st.token)
	if st.req.Role != "" {
		httpReq.Header.Set("X-User-Role", st.req.Role)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: st.op(), Wrapped: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Op: st.op(), Wrapped: fmt.Errorf("failed to read response body: %w", err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &Error{
			Kind:       classifyStatus(httpResp.StatusCode),
			StatusCode: httpResp.StatusCode,
			Op:         st.op(),
			Wrapped:    upstreamMessage(respBody),
		}
	}

	return &Response{
		StatusCode:     httpResp.StatusCode,
		Body:           respBody,
		TokenRefreshed: st.refreshed,
		Token:          st.token,
	}, nil
}

// upstreamMessage pulls a human-readable error out of an upstream JSON
// error body when one exists.
func upstreamMessage(body []byte) error {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Error != "" && parsed.Message != "":
			return fmt.Errorf("%s: %s", parsed.Error, parsed.Message)
		case parsed.Error != "":
			return fmt.Errorf("%s", parsed.Error)
		case parsed.Message != "":
			return fmt.Errorf("%s", parsed.Message)
		}
	}
	return nil
}

// fail records a failed call and returns the classified error.
func (c *Client) fail(ctx context.Context, st *callState, err error) error {
	ge, ok := err.(*Error)
	if !ok {
		ge = &Error{Kind: KindTransport, Op: st.op(), Wrapped: err}
	}

	severity := audit.SeverityWarning
	if ge.Kind == KindServer {
		severity = audit.SeverityError
	}
	c.sink.Emit(ctx, audit.Record{
		SfdID:          st.req.SfdID,
		UserID:         tokenUser(st.token),
		Action:         st.action(),
		Category:       "gateway",
		Severity:       severity,
		Status:         audit.StatusFailure,
		ErrorMessage:   ge.Error(),
		TargetResource: st.req.Endpoint,
		Details: map[string]any{
			"method":      st.req.Method,
			"kind":        ge.Kind.String(),
			"status_code": ge.StatusCode,
		},
	})
	metrics.IncRequestFailed(st.req.Method, ge.Kind.String())
	return ge
}
