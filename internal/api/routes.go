// Package api serves the pipeline's artifacts and progress over HTTP.
package api

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/wager-engine/internal/artifacts"
	"github.com/rawblock/wager-engine/internal/config"
	"github.com/rawblock/wager-engine/internal/db"
	"github.com/rawblock/wager-engine/internal/pipeline"
	"github.com/rawblock/wager-engine/internal/telemetry"
)

// Pipeline is the part of *pipeline.Runner the API drives.
type Pipeline interface {
	Run(ctx context.Context, upTo pipeline.Stage) (*pipeline.Report, error)
	Progress() pipeline.Progress
	Manifest() *artifacts.Manifest
}

// FlaggedStore pages through flagged counterparties. *db.PostgresStore
// implements it.
type FlaggedStore interface {
	FlaggedResults(ctx context.Context, page, limit int) ([]db.FlaggedResult, int, error)
}

// Options wire the router. Results and Telemetry are optional.
type Options struct {
	Service      string
	GraphEnabled bool
	HTTP         config.HTTPConfig
	Release      bool

	Pipeline  Pipeline
	Results   FlaggedStore
	Hub       *Hub
	Telemetry *telemetry.Metrics
	Log       *slog.Logger

	// BaseContext bounds runs started over HTTP. Defaults to
	// context.Background().
	BaseContext context.Context
}

type APIHandler struct {
	service      string
	graphEnabled bool
	pipeline     Pipeline
	results      FlaggedStore
	wsHub        *Hub
	log          *slog.Logger
	baseCtx      context.Context
}

func SetupRouter(opts Options) *gin.Engine {
	r := gin.Default()

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "api")

	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	// Production: allowed_origins=https://reports.example.org
	// Development: leave empty for *
	allowedOrigins := opts.HTTP.AllowedOrigins
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		service:      opts.Service,
		graphEnabled: opts.GraphEnabled,
		pipeline:     opts.Pipeline,
		results:      opts.Results,
		wsHub:        opts.Hub,
		log:          log,
		baseCtx:      baseCtx,
	}

	limiter := NewRateLimiter(baseCtx, opts.HTTP.RatePerMinute, opts.HTTP.Burst)
	auth := AuthMiddleware(opts.HTTP.AuthToken, opts.Release, log)

	api := r.Group("/api/v1")
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/chunks/:interval", handler.handleInventory)
		api.GET("/metrics/:label", handler.handleWindowMetrics)
		api.GET("/logs/:label", handler.handleRollingLog)
		api.GET("/results/:label", handler.handleStrategyResults)
		api.GET("/flagged", handler.handleFlagged)

		api.POST("/pipeline/run", limiter.Middleware(), auth, handler.handleStartRun)
		api.GET("/pipeline/progress", handler.handleProgress)

		if opts.Hub != nil {
			api.GET("/stream", opts.Hub.Subscribe)
		}
	}

	if opts.Telemetry != nil {
		r.GET("/metrics", gin.WrapH(opts.Telemetry.Handler()))
	}

	return r
}
