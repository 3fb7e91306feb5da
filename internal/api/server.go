package api

import (
	"context"
	"errors"
	"fmt"
	"grid-scalper-bot-go/internal/bot"
	"grid-scalper-bot-go/internal/events"
	"grid-scalper-bot-go/internal/manager"
	"grid-scalper-bot-go/internal/models"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Manager is the command surface the HTTP API drives
type Manager interface {
	Start(s *models.Strategy) (bot.StatusSnapshot, error)
	Stop() (bot.StatusSnapshot, error)
	Pause() (bot.StatusSnapshot, error)
	Resume() (bot.StatusSnapshot, error)
	UpdateStrategy(s models.Strategy) (bot.StatusSnapshot, error)
	ReconcileHoldings(actual float64) (bot.StatusSnapshot, error)
	SelectBot(id string) (bot.StatusSnapshot, error)
	Status() (bot.StatusSnapshot, error)
	Snapshot() manager.Snapshot
	CreateBot(t models.StrategyType, name string, s *models.Strategy) (bot.StatusSnapshot, error)
	DeleteBot(id string) error
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Addr           string
	RateLimit      float64 // requests per second on /api
	RateBurst      int
	ProductionMode bool
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	manager    Manager
	hub        *WSHub
	limiter    *rate.Limiter
	config     ServerConfig
	logger     *zap.Logger
}

// NewServer creates a new API server. When bus is non-nil every event is
// pushed to the websocket subscribers.
func NewServer(config ServerConfig, mgr Manager, bus *events.EventBus, logger *zap.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 20
	}
	if config.RateBurst <= 0 {
		config.RateBurst = int(config.RateLimit * 2)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	s := &Server{
		router:  router,
		manager: mgr,
		hub:     NewWSHub(logger),
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		config:  config,
		logger:  logger,
	}
	s.setupRoutes()

	go s.hub.Run()
	if bus != nil {
		bus.SubscribeAll(s.hub.BroadcastEvent)
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	{
		api.POST("/start", s.handleStart)
		api.POST("/stop", s.handleStop)
		api.POST("/pause", s.handlePause)
		api.POST("/resume", s.handleResume)
		api.PUT("/strategy", s.handleUpdateStrategy)
		api.POST("/reconcile", s.handleReconcile)
		api.GET("/status", s.handleStatus)
		api.GET("/manager", s.handleManager)
		api.POST("/bots", s.handleCreateBot)
		api.POST("/bots/:id/select", s.handleSelectBot)
		api.DELETE("/bots/:id", s.handleDeleteBot)
		api.GET("/ws", s.handleWebSocket)
	}
}

// rateLimitMiddleware rejects command requests beyond the configured rate
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			errorResponse(c, http.StatusTooManyRequests, CodeRateLimited, "too many requests, slow down")
			return
		}
		c.Next()
	}
}

// requestLogger logs each request through zap
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler { return s.router }

// Start runs the HTTP server until Shutdown
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server", zap.String("addr", s.config.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and disconnects subscribers
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	s.hub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
