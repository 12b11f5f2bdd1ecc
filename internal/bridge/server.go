// Package bridge exposes a Synchronizer over a local HTTP API so an external
// presentation process can drive it and follow its snapshots.
package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/mapic/internal/identity"
	"github.com/user/mapic/internal/metrics"
	"github.com/user/mapic/internal/synchronizer"
	"github.com/user/mapic/internal/types"
	"github.com/user/mapic/pkg/imagegen"
)

// Core is the part of the synchronizer the bridge drives.
type Core interface {
	SubmitGeneration(ctx context.Context, prompt, model string) (imagegen.Generation, error)
	DeleteGeneration(ctx context.Context, id string) error
	SelectFromHistory(id string) error
	StartNewSession() error
	SignIn(ctx context.Context, userID string) error
	SignOut(ctx context.Context) error
	Refresh(ctx context.Context) error
	Snapshot() synchronizer.Snapshot
	Subscribe() (<-chan synchronizer.Snapshot, func())
}

var _ Core = (*synchronizer.Synchronizer)(nil)

// Deps are the collaborators of a Server. Verifier and Journal are optional.
type Deps struct {
	Core     Core
	Verifier *identity.Verifier
	Journal  types.ActivityLog
	Logger   *slog.Logger
}

// Server is the bridge HTTP handler.
type Server struct {
	core     Core
	verifier *identity.Verifier
	journal  types.ActivityLog
	logger   *slog.Logger
	engine   *gin.Engine
}

// NewServer builds the router over deps.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		core:     deps.Core,
		verifier: deps.Verifier,
		journal:  deps.Journal,
		logger:   logger,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.observe())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.handleStream)

	api := r.Group("/api")
	api.GET("/snapshot", s.handleSnapshot)
	api.POST("/generate", s.handleGenerate)
	api.POST("/select/:id", s.handleSelect)
	api.POST("/new", s.handleNewSession)
	api.DELETE("/history/:id", s.handleDelete)
	api.POST("/session", s.handleSignIn)
	api.DELETE("/session", s.handleSignOut)
	api.POST("/refresh", s.handleRefresh)
	api.GET("/activity", s.handleActivity)

	s.engine = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// observe counts requests per route and logs them at debug level.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		metrics.BridgeRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
		s.logger.Debug("bridge request",
			"method", c.Request.Method,
			"route", route,
			"status", code,
			"duration", time.Since(start),
		)
	}
}
