package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/engram-memory/engram/pkg/auth"
	"github.com/engram-memory/engram/pkg/config"
	"github.com/engram-memory/engram/pkg/version"
)

// Server is the HTTP face of the dispatcher: POST /mcp behind bearer auth,
// GET /health open.
type Server struct {
	cfg        *config.ServerConfig
	provider   auth.Provider
	dispatcher *Dispatcher
	httpServer *http.Server
}

// NewServer wires the dispatcher behind an echo app.
func NewServer(cfg *config.ServerConfig, provider auth.Provider, dispatcher *Dispatcher) *Server {
	s := &Server{
		cfg:        cfg,
		provider:   provider,
		dispatcher: dispatcher,
	}
	e := echo.New()
	e.Use(securityHeaders())
	e.GET("/health", s.handleHealth)
	e.POST("/mcp", s.handleMCP, s.bearerAuth())
	s.httpServer = &http.Server{
		Addr:    cfg.Addr(),
		Handler: e,
	}
	return s
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("MCP server listening", "addr", s.cfg.Addr())
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// bearerAuth resolves the Authorization header to an identity. Auth failures
// are the one case surfaced as HTTP status rather than a JSON-RPC error.
func (s *Server) bearerAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			identity, err := s.provider.Verify(c.Request().Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid bearer token")
			}
			c.Set("identity", identity)
			return next(c)
		}
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"server":    version.AppName,
		"transport": "http",
	})
}

func (s *Server) handleMCP(c *echo.Context) error {
	identity, _ := c.Get("identity").(*auth.Identity)
	if identity == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing identity")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusOK, newErrorResponse(nil, &RPCError{
			Code:    CodeParseError,
			Message: "unreadable request body",
		}))
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return c.JSON(http.StatusOK, newErrorResponse(nil, &RPCError{
			Code:    CodeParseError,
			Message: "malformed JSON",
		}))
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return c.JSON(http.StatusOK, newErrorResponse(req.ID, &RPCError{
			Code:    CodeInvalidRequest,
			Message: "not a JSON-RPC 2.0 request",
		}))
	}

	ctx := c.Request().Context()
	if s.cfg.RequestDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestDeadline)
		defer cancel()
	}

	tc := ToolContext{
		TenantID:    identity.TenantID,
		PrincipalID: identity.PrincipalID,
		Scopes:      identity.Scopes,
	}
	resp := s.dispatcher.Dispatch(ctx, tc, &req)
	return c.JSON(http.StatusOK, resp)
}
