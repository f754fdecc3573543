package handler

import (
	"rewardsys/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 租户相关
		tenant := api.Group("/tenant")
		{
			tenant.POST("/create", h.CreateTenant)
			tenant.GET("/detail", h.GetTenant)
			tenant.GET("/ledger", h.ListTenantLedger)
		}

		// 积分流转相关
		points := api.Group("/points")
		{
			points.POST("/allocate-tenant", h.AllocateToTenant)
			points.POST("/allocate-department", h.AllocateToDepartment)
			points.POST("/delegate-lead", h.DelegateToLead)
			points.POST("/award", h.Award)
			points.POST("/recognize", h.Recognize)
			points.POST("/clawback", h.Clawback)
		}

		// 预算相关
		budget := api.Group("/budget")
		{
			budget.POST("/create", h.CreateBudget)
			budget.GET("/detail", h.GetBudget)
			budget.GET("/list", h.ListBudgets)
			budget.GET("/allocation-log", h.ListAllocationLog)
		}

		// 钱包相关
		wallet := api.Group("/wallet")
		{
			wallet.GET("/balance", h.GetWalletBalance)
			wallet.GET("/ledger", h.ListWalletLedger)
		}

		// 奖品相关
		reward := api.Group("/reward")
		{
			reward.POST("/create", h.CreateReward)
			reward.GET("/list", h.ListRewards)
			reward.POST("/deactivate", h.DeactivateReward)
		}

		// 兑换相关
		redemption := api.Group("/redemption")
		{
			redemption.POST("/redeem", h.Redeem)
			redemption.GET("/detail", h.GetRedemption)
			redemption.GET("/by-request", h.GetRedemptionByRequestID)
			redemption.GET("/list", h.ListRedemptions)
			redemption.GET("/ledger", h.GetRedemptionLedger)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Prometheus 指标
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
