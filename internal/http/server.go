// Package http provides the HTTP API for augmentd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/augmentd/internal/augment"
	"github.com/fyrsmithlabs/augmentd/internal/logging"
	"github.com/fyrsmithlabs/augmentd/internal/memory"
	"github.com/fyrsmithlabs/augmentd/internal/rag"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// RAGService is the document pipeline as used by the API.
type RAGService interface {
	Enabled() bool
	IndexText(ctx context.Context, req rag.IndexRequest) (*rag.IndexResult, error)
	Retrieve(ctx context.Context, query string, topK int) []rag.Item
	Document(ctx context.Context, id string) (*rag.DocumentView, error)
	DeleteDocument(ctx context.Context, id string) error
}

// MemoryRetriever merges scoped memory searches.
type MemoryRetriever interface {
	Retrieve(ctx context.Context, req memory.RetrieveRequest) []memory.Item
}

// Annotator builds annotation blocks for a message.
type Annotator interface {
	Annotate(ctx context.Context, req augment.Request) []augment.Block
}

// Services are the components behind the API. RAG and Memory are required;
// Merger and Augmenter are built from them when nil.
type Services struct {
	RAG       RAGService
	Memory    memory.Gateway
	Merger    MemoryRetriever
	Augmenter Annotator
}

// Server provides HTTP endpoints for augmentd.
type Server struct {
	echo   *echo.Echo
	svc    Services
	logger *logging.Logger
	config *Config
}

// Config holds HTTP server configuration. TopKTask and TopKUser are the
// memory listing defaults when a request gives no topK. A nil
// MeterProvider uses the global one.
type Config struct {
	Host          string
	Port          int
	TopKTask      int
	TopKUser      int
	MeterProvider metric.MeterProvider
}

// NewServer creates a new HTTP server.
func NewServer(svc Services, logger *logging.Logger, cfg *Config) (*Server, error) {
	if svc.RAG == nil {
		return nil, fmt.Errorf("rag service cannot be nil")
	}
	if svc.Memory == nil {
		return nil, fmt.Errorf("memory gateway cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.TopKTask == 0 {
		cfg.TopKTask = memory.DefaultTopKTask
	}
	if cfg.TopKUser == 0 {
		cfg.TopKUser = memory.DefaultTopKUser
	}

	logger = logger.Named("http")
	if svc.Merger == nil {
		svc.Merger = memory.NewMerger(svc.Memory, logger)
	}
	if svc.Augmenter == nil {
		svc.Augmenter = augment.New(svc.RAG, svc.Merger, augment.Options{
			TopKTask: cfg.TopKTask,
			TopKUser: cfg.TopKUser,
		}, logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	mp := cfg.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	e.Use(newAPIMetrics(mp, logger.Underlying()).middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), requestID)
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return nil
		}
	})

	s := &Server{
		echo:   e,
		svc:    svc,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	v1.GET("/memory", s.handleMemoryList)
	v1.POST("/memory", s.handleMemoryAdd)
	v1.POST("/memory/:id/promote", s.handleMemoryPromote)
	v1.DELETE("/memory/:id", s.handleMemoryDelete)

	v1.POST("/rag/index", s.handleRAGIndex)
	v1.POST("/rag/search", s.handleRAGSearch)
	v1.GET("/rag/documents/:id", s.handleRAGDocument)
	v1.DELETE("/rag/documents/:id", s.handleRAGDelete)

	v1.POST("/augment", s.handleAugment)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	RAG    bool   `json:"rag"`
	Memory bool   `json:"memory"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		RAG:    s.svc.RAG.Enabled(),
		Memory: s.svc.Memory.Enabled(),
	})
}

// AugmentResponse is the response body for POST /api/v1/augment.
type AugmentResponse struct {
	Blocks []augment.Block `json:"blocks"`
}

func (s *Server) handleAugment(c echo.Context) error {
	var req augment.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}
	if req.TopK < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "topK must be >= 0")
	}
	blocks := s.svc.Augmenter.Annotate(c.Request().Context(), req)
	if len(blocks) == 0 {
		setOutcome(c, OutcomeEmpty)
	}
	return c.JSON(http.StatusOK, AugmentResponse{Blocks: blocks})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
