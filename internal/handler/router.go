package handler

import (
	"walletledger/internal/config"
	"walletledger/internal/infrastructure/metrics"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, cfg *config.Config, log *logrus.Logger) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		transactions := api.Group("/transactions", AuthMiddleware(cfg.Auth.JWTSecret))
		{
			transactions.GET("/wallet", h.GetMyWallet)
			transactions.GET("/my-transactions", h.ListMyTransactions)
			transactions.POST("/withdraw", h.RequestWithdraw)

			admin := transactions.Group("", RequireRole(RoleSuperAdmin))
			{
				admin.GET("", h.ListTransactions)
				admin.GET("/stats", h.GetStats)
				admin.POST("/income", h.RecordIncome)
				admin.PATCH("/:no/process", h.ProcessWithdraw)
			}
		}

		wallets := api.Group("/wallets", AuthMiddleware(cfg.Auth.JWTSecret), RequireRole(RoleSuperAdmin))
		{
			wallets.POST("", h.CreateWallet)
		}

		gateway := api.Group("/gateway", CallbackAuthMiddleware(cfg.Auth.CallbackToken))
		{
			gateway.POST("/callback", h.GatewayCallback)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}
