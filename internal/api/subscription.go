package api

import (
	"errors"
	"net/http"

	"billing-api/internal/response"
	"billing-api/internal/services"

	"github.com/gin-gonic/gin"
)

// SubscriptionStatusResponse represents resolved subscription state
type SubscriptionStatusResponse struct {
	IsPremium    bool                         `json:"is_premium"`
	Subscription *services.ActiveSubscription `json:"subscription,omitempty"`
}

// PurchaseSubscription initiates a subscription purchase
func (h *Handlers) PurchaseSubscription(c *gin.Context) {
	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequestJSON(c, err)
		return
	}

	if err := h.Subscriptions.Purchase(c.Request.Context(), req.ProductID); err != nil {
		if errors.Is(err, services.ErrUnknownProduct) {
			response.ErrorJSON(c, http.StatusBadRequest, "Unknown subscription product: "+req.ProductID)
			return
		}
		response.ErrorJSON(c, http.StatusBadGateway, "Purchase failed: "+err.Error())
		return
	}

	response.SuccessJSON(c, SubscriptionStatusResponse{
		IsPremium:    h.Ledger.IsPremium(),
		Subscription: h.Subscriptions.Current(),
	})
}

// GetSubscriptionStatus re-resolves and returns subscription state.
// ?force_sync=true forces a purchase history sync first.
func (h *Handlers) GetSubscriptionStatus(c *gin.Context) {
	forceSync := c.Query("force_sync") == "true"

	sub, err := h.Subscriptions.RefreshStatus(c.Request.Context(), forceSync)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadGateway, "Failed to check subscription status: "+err.Error())
		return
	}

	response.SuccessJSON(c, SubscriptionStatusResponse{
		IsPremium:    h.Ledger.IsPremium(),
		Subscription: sub,
	})
}

// RestorePurchases forces a history sync and re-resolves entitlements
func (h *Handlers) RestorePurchases(c *gin.Context) {
	if err := h.Subscriptions.RestorePurchases(c.Request.Context()); err != nil {
		response.ErrorJSON(c, http.StatusBadGateway, "Restore failed: "+err.Error())
		return
	}

	response.SuccessJSON(c, SubscriptionStatusResponse{
		IsPremium:    h.Ledger.IsPremium(),
		Subscription: h.Subscriptions.Current(),
	})
}
