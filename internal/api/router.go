// Package api serves herald's monitoring endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/deusflow/herald/internal/app"
	"github.com/deusflow/herald/internal/digest"
	"github.com/deusflow/herald/internal/metrics"
)

// Runner executes a pipeline run.
type Runner interface {
	Run(ctx context.Context, mode digest.Mode) (app.Result, error)
}

type Server struct {
	metrics  *metrics.Metrics
	runner   Runner
	stateDir string
}

func NewServer(m *metrics.Metrics, runner Runner, stateDir string) *Server {
	return &Server{metrics: m, runner: runner, stateDir: stateDir}
}

// NewRouter returns a gin engine with the server's routes registered.
func NewRouter(s *Server) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/metrics", s.metricsStats)
	r.GET("/last-run", s.lastRun)
	r.GET("/demo", s.demo)
}

func (s *Server) health(c *gin.Context) {
	stats := s.metrics.GetStats()

	status := "ok"
	code := http.StatusOK
	if !s.metrics.Healthy() {
		status = "error"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":     status,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
	})
}

func (s *Server) metricsStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.GetStats())
}

func (s *Server) lastRun(c *gin.Context) {
	lr, err := app.ReadLastRun(s.stateDir)
	if errors.Is(err, os.ErrNotExist) {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "no completed run yet"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, lr)
}

// demo runs a live, non-persisting pipeline and returns the markdown.
func (s *Server) demo(c *gin.Context) {
	res, err := s.runner.Run(c.Request.Context(), digest.ModeDemo)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "message": err.Error()})
		return
	}
	c.Header("X-Herald-Run-Id", res.RunID)
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(res.Markdown))
}
