package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cameraservice "github.com/sentravision/sentra-cloud/internal/camera/service"
	"github.com/sentravision/sentra-cloud/internal/clock"
	"github.com/sentravision/sentra-cloud/internal/config"
	edgedomain "github.com/sentravision/sentra-cloud/internal/edge/domain"
	eventdomain "github.com/sentravision/sentra-cloud/internal/event/domain"
	licensedomain "github.com/sentravision/sentra-cloud/internal/license/domain"
	"github.com/sentravision/sentra-cloud/internal/ratelimit"
	"github.com/sentravision/sentra-cloud/internal/secrets"
	"github.com/sentravision/sentra-cloud/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin() *gin.Engine {
	return NewEngine()
}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
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
	engine     *gin.Engine
	cfg        config.Config
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	cipher     *secrets.Cipher
	edgeCfg    *config.EdgeConfigHolder
	metrics    *telemetry.Metrics
	suppressor ratelimit.Suppressor

	edgeRepo   edgedomain.Repository
	edgeSvc    edgedomain.Service
	licenseSvc licensedomain.Service
	eventSvc   eventdomain.Service
	cameraSvc  cameraservice.Service
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Cipher     *secrets.Cipher
	EdgeCfg    *config.EdgeConfigHolder
	Metrics    *telemetry.Metrics `optional:"true"`
	Suppressor ratelimit.Suppressor

	EdgeRepo   edgedomain.Repository
	EdgeSvc    edgedomain.Service
	LicenseSvc licensedomain.Service
	EventSvc   eventdomain.Service
	CameraSvc  cameraservice.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		db:         p.DB,
		log:        p.Log.Named("server"),
		clock:      p.Clock,
		genID:      p.GenID,
		cipher:     p.Cipher,
		edgeCfg:    p.EdgeCfg,
		metrics:    p.Metrics,
		suppressor: p.Suppressor,
		edgeRepo:   p.EdgeRepo,
		edgeSvc:    p.EdgeSvc,
		licenseSvc: p.LicenseSvc,
		eventSvc:   p.EventSvc,
		cameraSvc:  p.CameraSvc,
	}

	svc.engine.Use(RequestLogMiddleware(p.Log))
	svc.registerEdgeRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerEdgeRoutes() {
	api := s.engine.Group("/api/v1")

	// Heartbeat handles its own auth split: unsigned first contact, signed
	// steady state.
	api.POST("/edges/heartbeat", s.Heartbeat)

	// License validation allows an unsigned call during first-time setup.
	api.POST("/licenses/validate", s.ValidateLicense)

	authed := api.Group("", s.EdgeAuthRequired())
	authed.POST("/events/ingest", s.IngestEvent)
	authed.POST("/events/batch-ingest", s.BatchIngestEvents)
	authed.GET("/edges/cameras", s.ListCameras)
}
