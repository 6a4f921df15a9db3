package handler

import (
	"paycore/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg, logger)

	api := r.Group("/api/v1")
	{
		// 账户相关
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.GET("/list", h.ListAccounts)
			account.POST("/deposit", h.Deposit)
			account.GET("/validate", h.ValidateBalance)
		}

		// 支付相关
		payment := api.Group("/payment")
		{
			payment.POST("/execute", h.ExecutePayment)
			payment.GET("/detail", h.GetPayment)
			payment.GET("/list", h.ListPayments)
			payment.GET("/saga", h.GetSagaStatus)
		}

		// 风控诊断
		api.POST("/risk/assess", h.AssessRisk)

		// 流水相关
		transaction := api.Group("/transaction")
		{
			transaction.GET("/list", h.ListTransactions)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
