// file: internal/server/server.go
// version: 1.5.0
// guid: 4f5a6b7c-8d9e-0f1a-2b3c-4d5e6f7a8b9d

// Package server exposes the gateway as a local HTTP daemon: a proxy
// surface for tenant-scoped calls plus health, metrics, cache and token
// diagnostics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sahelmfi/sfd-gateway/internal/cache"
	"github.com/sahelmfi/sfd-gateway/internal/gateway"
	"github.com/sahelmfi/sfd-gateway/internal/metrics"
	"github.com/sahelmfi/sfd-gateway/internal/registry"
	"github.com/sahelmfi/sfd-gateway/internal/token"
)

// Server hosts the daemon's HTTP surface.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine

	gateway  *gateway.Client
	cache    *cache.Cache
	tokens   *token.Manager
	registry *registry.Registry
	issuer   *token.LocalIssuer
	limiter  *sfdLimiter

	sweepStop chan struct{}
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port          string
	Host          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// GetDefaultServerConfig returns the default daemon configuration.
func GetDefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:          "8090",
		Host:          "localhost",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
		SweepInterval: 5 * time.Minute,
	}
}

// Deps wires the server's collaborators. Gateway is required; the rest are
// optional and disable their endpoints when nil.
type Deps struct {
	Gateway  *gateway.Client
	Registry *registry.Registry
	Issuer   *token.LocalIssuer

	RateLimitPerSecond float64
	RateLimitBurst     int
}

// NewServer creates a new server instance
func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Register metrics (idempotent)
	metrics.Register()

	s := &Server{
		router:   router,
		gateway:  deps.Gateway,
		registry: deps.Registry,
		issuer:   deps.Issuer,
		limiter:  newSfdLimiter(deps.RateLimitPerSecond, deps.RateLimitBurst),
	}
	if deps.Gateway != nil {
		s.cache = deps.Gateway.Cache()
		s.tokens = deps.Gateway.Tokens()
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/api/health", s.healthCheck)
	s.router.GET("/api/v1/health", s.healthCheck)

	api := s.router.Group("/api/v1")
	api.Use(s.limiter.middleware())

	api.GET("/cache/status", s.cacheStatus)
	api.POST("/cache/clear", s.cacheClear)

	api.GET("/sfds", s.listSfds)
	api.GET("/sfds/:id", s.getSfd)

	api.GET("/tokens/:sfd", s.tokenStatus)
	api.POST("/tokens", s.issueToken)

	api.Any("/proxy/*path", s.proxy)
	api.POST("/transactions/batch", s.batch)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) cacheStatus(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache not configured"})
		return
	}
	c.JSON(http.StatusOK, s.cache.GetStatus())
}

func (s *Server) cacheClear(c *gin.Context) {
	if s.cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache not configured"})
		return
	}
	if sfd := c.Query("sfd"); sfd != "" {
		s.cache.ClearSfd(sfd)
		c.JSON(http.StatusOK, gin.H{"cleared": sfd})
		return
	}
	s.cache.ClearAll()
	c.JSON(http.StatusOK, gin.H{"cleared": "all"})
}

func (s *Server) listSfds(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "SFD directory not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sfds": s.registry.List()})
}

func (s *Server) getSfd(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "SFD directory not configured"})
		return
	}
	sfd, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown SFD"})
		return
	}
	c.JSON(http.StatusOK, sfd)
}

func (s *Server) tokenStatus(c *gin.Context) {
	if s.tokens == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token manager not configured"})
		return
	}
	sfd := c.Param("sfd")
	expiry := s.tokens.TokenExpiry(sfd)
	resp := gin.H{
		"sfd_id": sfd,
		"valid":  s.tokens.HasValidToken(sfd),
	}
	if !expiry.IsZero() {
		resp["expires_at"] = expiry.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) issueToken(c *gin.Context) {
	if s.issuer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "local token issuance not configured"})
		return
	}
	var req struct {
		SfdID  string `json:"sfd_id" binding:"required"`
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if s.registry != nil && !s.registry.IsActive(req.SfdID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "unknown or disabled SFD"})
		return
	}
	signed, expiresIn, err := s.issuer.Sign(req.SfdID, req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": signed, "expires_in": expiresIn})
}

// proxy forwards one tenant-scoped call through the gateway client.
func (s *Server) proxy(c *gin.Context) {
	if s.gateway == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gateway not configured"})
		return
	}
	sfdID := c.GetHeader("X-SFD-ID")
	if s.registry != nil && sfdID != "" && !s.registry.IsActive(sfdID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "unknown or disabled SFD"})
		return
	}

	tok := c.GetHeader("X-SFD-TOKEN")
	if tok == "" {
		tok = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}

	params := make(map[string]string)
	for k, vs := range c.Request.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	var body any
	if c.Request.Body != nil {
		raw, err := io.ReadAll(c.Request.Body)
		if err == nil && len(raw) > 0 {
			body = json.RawMessage(raw)
		}
	}

	req := &gateway.Request{
		SfdID:    sfdID,
		Token:    tok,
		Method:   c.Request.Method,
		Endpoint: c.Param("path"),
		Body:     body,
		Params:   params,
		Role:     c.GetHeader("X-User-Role"),
		OnTokenRefreshed: func(newToken string) {
			c.Header("X-Refreshed-Token", newToken)
		},
	}

	resp, err := s.gateway.Do(c.Request.Context(), req)
	if err != nil {
		s.writeGatewayError(c, err)
		return
	}
	if resp.FromCache {
		c.Header("X-From-Cache", "true")
	}
	c.Data(http.StatusOK, "application/json", resp.Body)
}

func (s *Server) batch(c *gin.Context) {
	if s.gateway == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "gateway not configured"})
		return
	}
	var br gateway.BatchRequest
	if err := c.ShouldBindJSON(&br); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	br.SfdID = c.GetHeader("X-SFD-ID")
	br.Token = c.GetHeader("X-SFD-TOKEN")
	if br.Token == "" {
		br.Token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	br.Role = c.GetHeader("X-User-Role")

	resp, err := s.gateway.DoBatch(c.Request.Context(), &br)
	if err != nil {
		s.writeGatewayError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", resp.Body)
}

// writeGatewayError maps a classified gateway error to a distinct HTTP
// status so clients can tell insufficient permission from upstream
// breakage.
func (s *Server) writeGatewayError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	kind := "server"
	switch {
	case gateway.IsConfig(err):
		status, kind = http.StatusBadRequest, "config"
	case gateway.IsPermission(err):
		status, kind = http.StatusForbidden, "permission"
	case gateway.IsTransport(err):
		status, kind = http.StatusGatewayTimeout, "transport"
	default:
		var ge *gateway.Error
		if errors.As(err, &ge) {
			kind = ge.Kind.String()
			if ge.Kind == gateway.KindAuth {
				status = http.StatusUnauthorized
			}
		}
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start(cfg ServerConfig) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	if s.cache != nil && cfg.SweepInterval > 0 {
		s.sweepStop = make(chan struct{})
		go s.sweepLoop(cfg.SweepInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[INFO] sfd-gateway listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Printf("[INFO] received %s, shutting down", sig)
	}

	if s.sweepStop != nil {
		close(s.sweepStop)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := s.cache.Sweep()
			metrics.SetCacheEntries(s.cache.GetStatus().TotalEntries)
			if removed > 0 {
				log.Printf("[INFO] cache sweep removed %d expired entries", removed)
			}
		case <-s.sweepStop:
			return
		}
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
