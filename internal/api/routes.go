package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rawblock/mule-engine/internal/audit"
	"github.com/rawblock/mule-engine/internal/flags"
	"github.com/rawblock/mule-engine/internal/heuristics"
	"github.com/rawblock/mule-engine/internal/sar"
)

// Pinger reports backing-store health for /health
type Pinger interface {
	Ping(ctx context.Context) error
}

// SubmissionReader lists filed SARs for a ring; optional
type SubmissionReader interface {
	SubmissionsForRing(ctx context.Context, ringID string, limit int) ([]audit.Submission, error)
}

// Options are the HTTP-layer settings
type Options struct {
	AllowedOrigins []string
	AuthToken      string
	FilingToken    string // required for submit-sar when set
	RatePerMinute  int
	RateBurst      int
	MaxUploadBytes int64
}

// Deps are the collaborators the handlers call into. Alerts, DB and
// Submissions may be nil.
type Deps struct {
	Engine      *heuristics.Engine
	Drafter     sar.Drafter
	Flags       flags.Store
	Audit       audit.Log
	Alerts      *heuristics.AlertManager
	Hub         *Hub
	DB          Pinger
	Submissions SubmissionReader
	Logger      *zap.Logger
}

type APIHandler struct {
	Deps
	maxUploadBytes int64
	startedAt      time.Time
}

// SetupRouter wires middleware and routes. The returned limiter must be
// stopped by the caller on shutdown.
func SetupRouter(deps Deps, opts Options) (*gin.Engine, *RateLimiter) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(deps.Logger), corsMiddleware(opts.AllowedOrigins))

	handler := &APIHandler{Deps: deps, maxUploadBytes: opts.MaxUploadBytes, startedAt: time.Now()}
	limiter := NewRateLimiter(opts.RatePerMinute, opts.RateBurst)

	api := r.Group("/api/v1")
	{
		api.GET("/health", handler.handleHealth)
		if deps.Hub != nil {
			api.GET("/stream", deps.Hub.Subscribe)
		}

		tokens := Tokens{Analyst: opts.AuthToken, Filing: opts.FilingToken}

		analyst := api.Group("")
		analyst.Use(AuthMiddleware(tokens, ScopeAnalyst, deps.Logger))
		{
			analyst.POST("/analyze", limiter.Middleware(), handler.handleAnalyze)
			analyst.POST("/generate-sar", limiter.Middleware(), handler.handleGenerateSAR)
			analyst.POST("/flag-account", handler.handleFlagAccount)
			analyst.GET("/sar-submissions/:ringId", handler.handleListSubmissions)
			analyst.GET("/alerts", handler.handleRecentAlerts)
		}

		api.POST("/submit-sar", AuthMiddleware(tokens, ScopeFiling, deps.Logger), handler.handleSubmitSAR)
	}

	return r, limiter
}

// corsMiddleware allows the configured origins; empty or "*" allows all
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowAll {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if _, ok := allowed[origin]; ok {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
