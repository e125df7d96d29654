package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/listinglens/listinglens/internal/apikey"
	apikeydomain "github.com/listinglens/listinglens/internal/apikey/domain"
	"github.com/listinglens/listinglens/internal/authorization"
	"github.com/listinglens/listinglens/internal/cloudmetrics"
	"github.com/listinglens/listinglens/internal/config"
	"github.com/listinglens/listinglens/internal/credit"
	creditdomain "github.com/listinglens/listinglens/internal/credit/domain"
	"github.com/listinglens/listinglens/internal/generation"
	generationdomain "github.com/listinglens/listinglens/internal/generation/domain"
	"github.com/listinglens/listinglens/internal/observability"
	obsmiddleware "github.com/listinglens/listinglens/internal/observability/logger"
	obsmetrics "github.com/listinglens/listinglens/internal/observability/metrics"
	obstracing "github.com/listinglens/listinglens/internal/observability/tracing"
	"github.com/listinglens/listinglens/internal/payment"
	paymentdomain "github.com/listinglens/listinglens/internal/payment/domain"
	"github.com/listinglens/listinglens/internal/providers"
	pdfprovider "github.com/listinglens/listinglens/internal/providers/pdf"
	"github.com/listinglens/listinglens/internal/ratelimit"
	"github.com/listinglens/listinglens/internal/template"
	templatedomain "github.com/listinglens/listinglens/internal/template/domain"
	"github.com/listinglens/listinglens/internal/workspace"
	workspacedomain "github.com/listinglens/listinglens/internal/workspace/domain"
)

var Module = fx.Module("http.server",
	cloudmetrics.Module,
	fx.Provide(registerGin),
	authorization.Module,
	apikey.Module,
	workspace.Module,
	credit.Module,
	payment.Module,
	template.Module,
	generation.Module,
	providers.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Message
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
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

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	APIKeySvc     apikeydomain.Service
	AuthzSvc      authorization.Service
	WorkspaceSvc  workspacedomain.Service
	CreditSvc     creditdomain.Service
	TemplateSvc   templatedomain.Service
	GenerationSvc generationdomain.Service
	PaymentSvc    paymentdomain.Service
	PDFSvc        pdfprovider.Provider

	EnhanceLimiter *ratelimit.EnhanceLimiter `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`
}

type Server struct {
	engine         *gin.Engine
	cfg            config.Config
	log            *zap.Logger
	apiKeySvc      apikeydomain.Service
	authzSvc       authorization.Service
	workspaceSvc   workspacedomain.Service
	creditSvc      creditdomain.Service
	templateSvc    templatedomain.Service
	generationSvc  generationdomain.Service
	paymentSvc     paymentdomain.Service
	pdfSvc         pdfprovider.Provider
	enhanceLimiter *ratelimit.EnhanceLimiter
	obsMetrics     *obsmetrics.Metrics
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		log:            p.Log.Named("server"),
		apiKeySvc:      p.APIKeySvc,
		authzSvc:       p.AuthzSvc,
		workspaceSvc:   p.WorkspaceSvc,
		creditSvc:      p.CreditSvc,
		templateSvc:    p.TemplateSvc,
		generationSvc:  p.GenerationSvc,
		paymentSvc:     p.PaymentSvc,
		pdfSvc:         p.PDFSvc,
		enhanceLimiter: p.EnhanceLimiter,
		obsMetrics:     p.ObsMetrics,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/signup", s.Signup)
	auth.POST("/login", s.Login)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Credits --------
	api.GET("/credits/balance", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeCreditsRead), s.GetBalance)
	api.GET("/credits/transactions", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeCreditsRead), s.ListTransactions)
	api.GET("/credits/packages", s.ListPackages)
	api.GET("/credits/receipts/:payment_id", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeCreditsRead), s.DownloadReceipt)

	// -------- Style templates --------
	api.GET("/templates", s.ListTemplates)

	// -------- Enhancements --------
	api.POST("/enhancements", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeEnhanceWrite), s.EnhanceRateLimit(), s.CreateEnhancement)
	api.GET("/enhancements", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeEnhanceWrite), s.ListEnhancements)
	api.GET("/enhancements/:id", s.APIKeyRequired(), s.RequireScope(apikeydomain.ScopeEnhanceWrite), s.GetEnhancement)
	api.POST("/enhancements/:id/retry",
		s.APIKeyRequired(),
		s.RequireScope(apikeydomain.ScopeEnhanceWrite),
		s.authorizeWorkspaceAction(authorization.ObjectEnhancement, authorization.ActionEnhancementRetry),
		s.RetryEnhancement,
	)

	// -------- API keys --------
	api.GET("/api_keys", s.APIKeyRequired(), s.ListAPIKeys)
	api.POST("/api_keys", s.APIKeyRequired(), s.CreateAPIKey)
	api.POST("/api_keys/:key_id/rotate", s.APIKeyRequired(), s.RotateAPIKey)
	api.DELETE("/api_keys/:key_id", s.APIKeyRequired(), s.RevokeAPIKey)

	// -------- Admin --------
	api.POST("/admin/credits/adjust",
		s.APIKeyRequired(),
		s.RequireScope(apikeydomain.ScopeWebhookAdmin),
		s.authorizeWorkspaceAction(authorization.ObjectCredits, authorization.ActionCreditsAdjust),
		s.AdjustCredits,
	)

	// -------- Payment webhooks --------
	api.POST("/payments/webhooks/:provider", s.HandlePaymentWebhook)
}
