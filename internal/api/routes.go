package api

import (
	"billing-api/internal/middleware"
	"billing-api/internal/models"
	"billing-api/internal/services"

	"github.com/gin-gonic/gin"
)

// HistoryStore reads recent credit history entries for a profile.
type HistoryStore interface {
	RecentHistory(profileID string, limit int) ([]models.CreditHistory, error)
}

// Handlers bundles the injected services behind the HTTP surface.
type Handlers struct {
	Purchases     *services.PurchaseCoordinator
	Subscriptions *services.SubscriptionCoordinator
	Ledger        *services.CreditLedger
	History       HistoryStore
	Events        *services.EventBus
	ServiceName   string
}

// SetupRoutes sets up all routes
func SetupRoutes(r *gin.Engine, h *Handlers, apiKey string) {
	api := r.Group("/api")
	api.Use(middleware.APIKeyMiddleware(apiKey))
	{
		api.GET("/catalog", h.GetCatalog)
		api.POST("/purchase", h.PurchaseProduct)

		subscription := api.Group("/subscription")
		{
			subscription.POST("/purchase", h.PurchaseSubscription)
			subscription.GET("/status", h.GetSubscriptionStatus)
			subscription.POST("/restore", h.RestorePurchases)
		}

		ledger := api.Group("/ledger")
		{
			ledger.GET("", h.GetBalance)
			ledger.POST("/consume", h.ConsumeCredits)
			ledger.GET("/history", h.GetHistory)
		}

		api.GET("/events", h.StreamEvents)
	}

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": h.ServiceName,
		})
	})
}
