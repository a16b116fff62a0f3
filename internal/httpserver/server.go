// Package httpserver exposes the invocation handler and read-only event
// queries over HTTP.
package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/ferry/internal/handler"
	"github.com/tinytelemetry/ferry/internal/model"
	"github.com/tinytelemetry/ferry/internal/trigger"
)

// Invoker runs one invocation for a raw trigger event.
type Invoker interface {
	Invoke(ctx context.Context, raw []byte) (handler.Result, error)
}

// QueryStore is the narrow store contract required by the HTTP API.
type QueryStore = model.EventQuerier

const (
	defaultAddr        = "0.0.0.0:3000"
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

// Config holds tunable parameters for the server.
type Config struct {
	// InvokeTimeout is the time budget of an invocation received over HTTP.
	InvokeTimeout time.Duration
}

// Server provides the HTTP API.
type Server struct {
	addr          string
	invoker       Invoker
	store         QueryStore
	invokeTimeout time.Duration

	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, invoker Invoker, store QueryStore, conf ...Config) *Server {
	if addr == "" {
		addr = defaultAddr
	}
	timeout := model.DefaultInvokeDeadline
	if len(conf) > 0 && conf[0].InvokeTimeout > 0 {
		timeout = conf[0].InvokeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:          addr,
		invoker:       invoker,
		store:         store,
		invokeTimeout: timeout,
		ctx:           ctx,
		cancel:        cancel,
		startTime:     time.Now(),
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.POST("/api/invoke", s.handleInvoke)
	r.GET("/api/events", s.handleEvents)
	r.GET("/api/events/count", s.handleEventCount)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.invokeTimeout + 30*time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	count, err := s.store.TotalEventCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).String(),
		"event_count": count,
	})
}

// handleInvoke runs the request body as a trigger event. The invocation gets
// the configured time budget; resume messages are emitted when it runs low.
func (s *Server) handleInvoke(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty or unreadable trigger event"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.invokeTimeout)
	defer cancel()

	res, err := s.invoker.Invoke(ctx, raw)
	switch {
	case errors.Is(err, trigger.ErrUnsupportedTrigger):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "result": res})
	case errors.Is(err, handler.ErrInputNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "result": res})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": res})
	default:
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) handleEventCount(c *gin.Context) {
	ctx := c.Request.Context()
	total, err := s.store.TotalEventCount(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count events"})
		return
	}
	byIndex, err := s.store.EventCountsByIndex(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count events by index"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":    total,
		"by_index": byIndex,
	})
}

func (s *Server) handleEvents(c *gin.Context) {
	limit := defaultEventsLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventsLimit)
	}

	events, err := s.store.RecentEvents(c.Request.Context(), limit, c.Query("index"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read events"})
		return
	}
	if events == nil {
		events = []model.StoredEvent{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}
