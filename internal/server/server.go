// Package server exposes the orchestrator over HTTP. Authentication is
// delegated to a fronting gateway that sets identity headers; this
// layer resolves them into an actor once per request.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	billingdomain "github.com/nimbushost/fleet/internal/billing/domain"
	"github.com/nimbushost/fleet/internal/config"
	instancedomain "github.com/nimbushost/fleet/internal/instance/domain"
	tenantdomain "github.com/nimbushost/fleet/internal/tenant/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, registry *prometheus.Registry, log *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return r
}

func registerGin(cfg config.Config, registry *prometheus.Registry, log *zap.Logger) *gin.Engine {
	return NewEngine(cfg, registry, log)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	log         *zap.Logger
	genID       *snowflake.Node
	tenantSvc   tenantdomain.Service
	billingSvc  billingdomain.Service
	instanceSvc instancedomain.Service
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	Log         *zap.Logger
	GenID       *snowflake.Node
	TenantSvc   tenantdomain.Service
	BillingSvc  billingdomain.Service
	InstanceSvc instancedomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		log:         p.Log.Named("server"),
		genID:       p.GenID,
		tenantSvc:   p.TenantSvc,
		billingSvc:  p.BillingSvc,
		instanceSvc: p.InstanceSvc,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.ActorContext())

	api.POST("/signup", s.Signup)

	// -------- Plans & billing --------
	api.GET("/plans", s.ListPlans)
	api.GET("/subscriptions", s.AuthRequired(), s.ListSubscriptions)
	api.POST("/subscriptions", s.AuthRequired(), s.Subscribe)
	api.POST("/payments", s.AuthRequired(), s.RecordPayment)

	// -------- Instances --------
	api.GET("/instances", s.AuthRequired(), s.ListInstances)
	api.POST("/instances", s.AuthRequired(), s.CreateInstance)
	api.GET("/instances/:id", s.AuthRequired(), s.GetInstance)
	api.GET("/instances/:id/logs", s.AuthRequired(), s.ListInstanceLogs)
	api.POST("/instances/:id/start", s.AuthRequired(), s.commandHandler(instancedomain.CommandStart))
	api.POST("/instances/:id/stop", s.AuthRequired(), s.commandHandler(instancedomain.CommandStop))
	api.POST("/instances/:id/restart", s.AuthRequired(), s.commandHandler(instancedomain.CommandRestart))
	api.POST("/instances/:id/remove", s.AuthRequired(), s.commandHandler(instancedomain.CommandRemove))
	api.POST("/instances/:id/retry", s.AuthRequired(), s.commandHandler(instancedomain.CommandRetry))
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
