package router

import (
	"fmt"
	"strings"

	"github.com/kamicore/internal/cache"
	"github.com/kamicore/internal/config"
	adminhandlers "github.com/kamicore/internal/http/handlers/admin"
	publichandlers "github.com/kamicore/internal/http/handlers/public"
	"github.com/kamicore/internal/logger"
	"github.com/kamicore/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.Z()
	r := gin.New()

	// 初始化 Handler（按前台/后台分组）
	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)

	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = cache.Prefix()
	}
	redisClient := cache.Client()
	orderRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:order", redisPrefix),
		WindowSeconds: cfg.Security.OrderRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.OrderRateLimit.MaxRequests,
		BlockSeconds:  cfg.Security.OrderRateLimit.BlockSeconds,
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// API 路由组
	apiV1 := r.Group("/api/v1")
	{
		// 公开接口
		apiV1.GET("/products", publicHandler.ListProducts)
		apiV1.GET("/products/:slug", publicHandler.GetProduct)

		apiV1.POST("/orders", RateLimitMiddleware(redisClient, orderRule, KeyByIP), publicHandler.CreateOrder)
		apiV1.GET("/orders/:order_no", publicHandler.GetOrderByOrderNo)
		apiV1.POST("/orders/:order_no/cancel", publicHandler.CancelOrder)
		apiV1.POST("/refunds", publicHandler.RequestRefund)

		// 网关可能以 GET 或 POST 送达回调
		apiV1.GET("/payments/epay/notify", publicHandler.EpayNotify)
		apiV1.POST("/payments/epay/notify", publicHandler.EpayNotify)

		// 管理端接口
		apiV1.POST("/admin/login", adminHandler.Login)
		admin := apiV1.Group("/admin")
		admin.Use(JWTAuthMiddleware(cfg.JWT.SecretKey, c.AdminRepo))
		{
			admin.GET("/orders", adminHandler.ListOrders)
			admin.GET("/orders/:order_no", adminHandler.GetOrder)
			admin.GET("/refunds", adminHandler.ListRefundRequests)
			admin.POST("/refunds/:id/approve", adminHandler.ApproveRefund)
			admin.POST("/refunds/:id/reject", adminHandler.RejectRefund)
			admin.POST("/refunds/direct", adminHandler.DirectRefund)
			admin.POST("/products", adminHandler.CreateProduct)
			admin.PUT("/products/:id", adminHandler.UpdateProduct)
			admin.POST("/products/:id/cards", adminHandler.ImportCards)
		}
	}

	return r
}
