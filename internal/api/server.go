// Package api exposes the monitoring engine's thin control plane: a
// read-mostly surface over the Strategy Store plus a manual evaluate
// endpoint, gated by a shared-secret header rather than the base repo's
// JWT auth (see design notes for why).
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"strategy-monitor/internal/logic"
	"strategy-monitor/internal/models"
)

// Store is the subset of the Strategy Store the control plane reads.
type Store interface {
	LoadActive(ctx context.Context) ([]*models.Strategy, error)
	LoadByID(ctx context.Context, id uuid.UUID) (*models.Strategy, error)
	TriggerLogs(ctx context.Context, strategyID uuid.UUID, limit int) ([]*models.TriggerLog, error)
	HealthCheck(ctx context.Context) error
}

// Cache is the subset of the Cache the control plane's debug endpoint
// reads.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Healthy() bool
}

// Metrics is a snapshot of scheduler activity, updated by the caller
// after every cycle.
type Metrics struct {
	CyclesRun     int64
	StrategiesDue int64
	TriggersFired int64
	LastCycleAt   time.Time
}

// MetricsSource reports the latest Metrics snapshot.
type MetricsSource interface {
	Snapshot() Metrics
}

// Server is the gin-based HTTP control plane.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server

	store   Store
	cache   Cache
	metrics MetricsSource
	newEval func() logic.ConditionEvaluator
	apiKey  string
	log     zerolog.Logger
}

type Config struct {
	Addr           string
	APIKey         string
	AllowedOrigins []string
}

func New(cfg Config, store Store, cache Cache, metrics MetricsSource, newEval func() logic.ConditionEvaluator, log zerolog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "X-Monitoring-Key")
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:  router,
		store:   store,
		cache:   cache,
		metrics: metrics,
		newEval: newEval,
		apiKey:  cfg.APIKey,
		log:     log.With().Str("component", "api").Logger(),
	}
	s.registerRoutes()

	s.httpSrv = &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)

	authed := s.router.Group("/")
	authed.Use(s.requireAPIKey)
	{
		authed.GET("/strategies", s.handleListStrategies)
		authed.POST("/reload_strategies", s.handleReloadStrategies)
		authed.POST("/evaluate/:id", s.handleEvaluate)
		authed.GET("/metrics", s.handleMetrics)
		authed.GET("/trigger_logs", s.handleTriggerLogs)
		authed.GET("/cache/get", s.handleCacheGet)
	}
}

// requireAPIKey implements the shared-secret scheme: a request must
// carry X-Monitoring-Key matching the configured key. An empty
// configured key disables auth (local development only).
func (s *Server) requireAPIKey(c *gin.Context) {
	if s.apiKey == "" {
		c.Next()
		return
	}
	got := c.GetHeader("X-Monitoring-Key")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.apiKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing X-Monitoring-Key"})
		return
	}
	c.Next()
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("control plane listening")
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
