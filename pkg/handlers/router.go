package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	config "reorder-api/configs"
	"reorder-api/pkg/services"
)

// Dependencies はルーターが必要とするサービス群です。
type Dependencies struct {
	Config      *config.Config
	Store       services.OrderStore
	Recommender Recommender
	Importer    *services.OrderImportService
	Syncer      Syncer
	Basket      BasketOperator
	Monitoring  *services.MonitoringService

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewRouter はGinルーターを組み立てます。
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Monitoring == nil {
		deps.Monitoring = services.NewMonitoringService()
	}
	if deps.Importer == nil {
		deps.Importer = services.NewOrderImportService()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(deps.Monitoring.LoggingMiddleware())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AddAllowHeaders("X-API-KEY")
	r.Use(cors.New(corsConfig))

	adminHandler := NewAdminHandler(deps.Config)
	monitoringHandler := NewMonitoringHandler(deps.Monitoring)
	recommendationHandler := NewRecommendationHandler(deps.Store, deps.Recommender, deps.Config.EngineConfig())
	orderHandler := NewOrderHandler(deps.Store, deps.Importer)
	syncHandler := NewSyncHandler(deps.Syncer)
	basketHandler := NewBasketHandler(deps.Basket)
	if deps.Now != nil {
		recommendationHandler.now = deps.Now
	}

	// ヘルスチェックエンドポイント
	r.GET("/health", adminHandler.HealthCheck)

	// APIバージョン1のルートグループ
	v1 := r.Group("/api/v1")
	v1.Use(APIKeyMiddleware(deps.Config.APIKey), adminHandler.MaintenanceMiddleware())
	{
		v1.GET("/status", orderHandler.GetStatus)
		v1.GET("/orders", orderHandler.ListOrders)
		v1.POST("/orders/import", orderHandler.ImportOrders)
		v1.POST("/sync", syncHandler.Sync)

		v1.GET("/patterns", recommendationHandler.GetPatterns)
		v1.GET("/recommendations", recommendationHandler.GetRecommendations)
		v1.GET("/recommendations/history", recommendationHandler.GetHistory)
		v1.GET("/recommendations/:itemId", recommendationHandler.GetItemRecommendation)

		basket := v1.Group("/basket")
		{
			basket.GET("", basketHandler.GetBasket)
			basket.POST("/add", basketHandler.AddItems)
			basket.POST("/clear", basketHandler.ClearBasket)
		}

		// 管理者向けAPI
		admin := v1.Group("/admin")
		{
			admin.GET("/health-status", adminHandler.GetHealthStatus)
			admin.POST("/maintenance/start", adminHandler.StartMaintenance)
			admin.POST("/maintenance/stop", adminHandler.StopMaintenance)
		}

		// モニタリングAPI
		v1.GET("/monitoring/logs", monitoringHandler.GetLogs)
	}

	return r
}

// APIKeyMiddleware は X-API-KEY ヘッダーを検証します。キー未設定の場合は認証しません。
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-KEY") != apiKey {
			respondError(c, http.StatusUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}
