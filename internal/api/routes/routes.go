package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/adreach/settlement_service/docs"
	"github.com/adreach/settlement_service/internal/api/handlers"
	"github.com/adreach/settlement_service/internal/api/middleware"
	"github.com/adreach/settlement_service/internal/infrastructure/di"
	"github.com/adreach/settlement_service/pkg/tracing"
)

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	router := gin.New()

	// Global middleware - order matters
	router.Use(tracing.HTTPMiddleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics(container.Metrics))
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.CORS(container.Config.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(container.Config.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	engine := container.GetSettlementEngine()

	healthHandler := handlers.NewHealthHandler(container.ZapLog, container.Version)
	for name, check := range container.HealthChecks() {
		healthHandler.AddCheck(name, check)
	}
	depositHandlers := handlers.NewDepositHandlers(engine, container.Logger)
	webhookHandlers := handlers.NewWebhookHandlers(engine, container.Logger)
	chainQueries := middleware.NewChainQueryLimiter(container.Config.Server.ChainQueryPerMin)
	container.OnClose(chainQueries)
	webhookHandlers.SetWebhookSecret(
		container.Config.Webhook.Secret,
		container.Config.Webhook.SkipSignatureVerify && container.Config.Environment != "production",
	)

	// Health checks (no auth required)
	router.GET("/health", healthHandler.Liveness)
	router.GET("/health/readiness", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger documentation (development only)
	if container.Config.Environment != "production" {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Chain watcher callbacks authenticate with an HMAC signature
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/chain-deposits", webhookHandlers.ChainDepositWebhook)
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Authentication(container.Config.JWT))
	{
		deposits := v1.Group("/deposits")
		{
			deposits.POST("", depositHandlers.CreateDeposit)
			deposits.GET("/:id", depositHandlers.GetDeposit)
			deposits.GET("/:id/qr", depositHandlers.GetDepositQR)
			deposits.POST("/:id/verify", chainQueries.Limit(), depositHandlers.VerifyDeposit)
			deposits.POST("/:id/broadcast", chainQueries.Limit(), depositHandlers.BroadcastDeposit)
		}

		v1.POST("/settlements/check", chainQueries.Limit(), depositHandlers.CheckSettlement)

		wallets := v1.Group("/wallets/:user_id")
		{
			wallets.GET("/balances", depositHandlers.GetWalletBalances)
			wallets.GET("/deposits", depositHandlers.ListUserDeposits)
		}

		v1.GET("/rates", depositHandlers.GetRates)

		assets := v1.Group("/assets")
		{
			assets.GET("", depositHandlers.ListAssets)
			assets.GET("/:asset/deposit-balance", depositHandlers.GetDepositAddressBalance)
		}
	}

	return router
}
