// Package server exposes one environment over HTTP so that trainers in other
// processes, or other languages, can drive it.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeu5/fuzz-gym/gym"
	"github.com/zeu5/fuzz-gym/protocol"
	"github.com/zeu5/fuzz-gym/session"
	"github.com/zeu5/fuzz-gym/types"
)

type Server struct {
	Addr   string
	env    types.Environment
	logger *slog.Logger
	server *http.Server

	// lock serializes reset, step and seed on the environment
	lock *sync.Mutex
}

type stepRequest struct {
	Action *float64 `json:"action" binding:"required"`
}

type seedRequest struct {
	Seed *int64 `json:"seed"`
}

type stepResponse struct {
	Observation types.Observation `json:"observation"`
	Reward      float64           `json:"reward"`
	Done        bool              `json:"done"`
	Info        types.Info        `json:"info"`
	ActionSpace types.ActionSpace `json:"action_space"`
}

func NewServer(addr string, env types.Environment, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Addr:   addr,
		env:    env,
		logger: logger,
		lock:   new(sync.Mutex),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/reset", s.handleReset)
	r.POST("/step", s.handleStep)
	r.POST("/seed", s.handleSeed)
	r.POST("/close", s.handleClose)
	r.GET("/healthz", healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is done, then shuts the server down and closes the
// environment.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("env server listening", "addr", s.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.server.Shutdown(shutdownCtx)
	s.env.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

func (s *Server) handleReset(c *gin.Context) {
	s.lock.Lock()
	defer s.lock.Unlock()

	obs, err := s.env.Reset()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"observation": obs, "action_space": s.env.ActionSpace()})
}

func (s *Server) handleStep(c *gin.Context) {
	req := stepRequest{}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to unmarshal request"})
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	obs, reward, done, info, err := s.env.Step(*req.Action)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stepResponse{
		Observation: obs,
		Reward:      reward,
		Done:        done,
		Info:        info,
		ActionSpace: s.env.ActionSpace(),
	})
}

func (s *Server) handleSeed(c *gin.Context) {
	req := seedRequest{}
	// an empty body asks for a random seed
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to unmarshal request"})
			return
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	c.JSON(http.StatusOK, gin.H{"seeds": s.env.Seed(req.Seed)})
}

// handleClose does not wait for the lock: closing interrupts a step in flight.
func (s *Server) handleClose(c *gin.Context) {
	if err := s.env.Close(); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := Status(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("env request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Status maps an environment error to its HTTP status: misuse by the caller is
// a bad request, a misbehaving target a conflict.
func Status(err error) int {
	switch {
	case errors.Is(err, gym.ErrInvalidAction),
		errors.Is(err, gym.ErrNotReset),
		errors.Is(err, gym.ErrEpisodeDone),
		errors.Is(err, gym.ErrClosed):
		return http.StatusBadRequest
	case errors.Is(err, protocol.ErrDesync),
		errors.Is(err, protocol.ErrCoverageRegression),
		errors.Is(err, session.ErrInitTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
