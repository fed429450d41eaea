package api

import (
	"errors"
	"net/http"

	"billing-api/internal/billing"
	"billing-api/internal/response"
	"billing-api/internal/services"

	"github.com/gin-gonic/gin"
)

// CatalogResponse represents the product catalog
type CatalogResponse struct {
	Consumables   []billing.Product `json:"consumables"`
	Subscriptions []billing.Product `json:"subscriptions"`
}

// GetCatalog fetches both product catalogs from the store
func (h *Handlers) GetCatalog(c *gin.Context) {
	consumables, err := h.Purchases.FetchCatalog(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrCatalogLoading) {
			response.ErrorJSON(c, http.StatusConflict, "Catalog fetch already in progress")
			return
		}
		response.ErrorJSON(c, http.StatusBadGateway, "Failed to fetch products: "+err.Error())
		return
	}

	subscriptions, err := h.Subscriptions.FetchCatalog(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrCatalogLoading) {
			response.ErrorJSON(c, http.StatusConflict, "Catalog fetch already in progress")
			return
		}
		response.ErrorJSON(c, http.StatusBadGateway, "Failed to fetch products: "+err.Error())
		return
	}

	response.SuccessJSON(c, CatalogResponse{
		Consumables:   consumables,
		Subscriptions: subscriptions,
	})
}

// PurchaseRequest represents a purchase request
type PurchaseRequest struct {
	ProductID string `json:"product_id" binding:"required"`
}

// PurchaseProduct initiates a consumable credit purchase
func (h *Handlers) PurchaseProduct(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequestJSON(c, err)
		return
	}

	if err := h.Purchases.Purchase(c.Request.Context(), req.ProductID); err != nil {
		if errors.Is(err, services.ErrUnknownProduct) {
			response.ErrorJSON(c, http.StatusBadRequest, "Unknown product: "+req.ProductID)
			return
		}
		response.ErrorJSON(c, http.StatusBadGateway, "Purchase failed: "+err.Error())
		return
	}

	current, total := h.Ledger.Balance()
	response.SuccessJSON(c, gin.H{
		"product_id":      req.ProductID,
		"current_credits": current,
		"total_credits":   total,
	})
}
