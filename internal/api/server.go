// Package api serves the read-only status API: health, the latest
// session summary, the team dashboard files and Prometheus metrics.
// It never mutates trading state.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/metrics"
	"github.com/quantdesk/quantdesk/internal/persist"
)

// dashboard views the API will serve from disk
var dashboardViews = map[string]bool{
	"summary":     true,
	"holdings":    true,
	"stats":       true,
	"trades":      true,
	"leaderboard": true,
}

// Server is the status API
type Server struct {
	addr         string
	store        *persist.Store
	dashboardDir string
	server       *http.Server
	log          zerolog.Logger
}

// NewServer creates the API server. dashboardDir may be empty when the
// dashboard is disabled; its routes then return 404.
func NewServer(addr string, store *persist.Store, dashboardDir string) *Server {
	return &Server{
		addr:         addr,
		store:        store,
		dashboardDir: dashboardDir,
		log:          config.NewLogger("api"),
	}
}

// Router builds the gin engine with all routes registered
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/session", s.handleSession)
		v1.GET("/dashboard/:view", s.handleDashboard)
	}
	return r
}

// Start begins serving in the background
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", s.addr).Msg("Starting status API")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Status API error")
		}
	}()
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown status API: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   config.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSession returns the most recent session summary
func (s *Server) handleSession(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session state configured"})
		return
	}
	raw, err := s.store.LatestSessionSummary()
	if err != nil {
		s.log.Error().Err(err).Msg("Session summary lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session summary"})
		return
	}
	if raw == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session has completed yet"})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}

// handleDashboard serves one dashboard file as written by the sink
func (s *Server) handleDashboard(c *gin.Context) {
	view := c.Param("view")
	if s.dashboardDir == "" || !dashboardViews[view] {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown dashboard view %q", view)})
		return
	}

	raw, err := os.ReadFile(filepath.Join(s.dashboardDir, view+".json"))
	if os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no dashboard data yet"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("view", view).Msg("Dashboard read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dashboard view"})
		return
	}
	c.Data(http.StatusOK, "application/json", raw)
}
