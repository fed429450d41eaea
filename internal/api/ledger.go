package api

import (
	"errors"
	"net/http"
	"strconv"

	"billing-api/internal/response"
	"billing-api/internal/services"

	"github.com/gin-gonic/gin"
)

// BalanceResponse represents the current ledger state
type BalanceResponse struct {
	ProfileID      string `json:"profile_id"`
	CurrentCredits int    `json:"current_credits"`
	TotalCredits   int    `json:"total_credits"`
	IsPremium      bool   `json:"is_premium"`
}

// GetBalance returns the current credit balance
func (h *Handlers) GetBalance(c *gin.Context) {
	current, total := h.Ledger.Balance()
	response.SuccessJSON(c, BalanceResponse{
		ProfileID:      h.Ledger.ProfileID(),
		CurrentCredits: current,
		TotalCredits:   total,
		IsPremium:      h.Ledger.IsPremium(),
	})
}

// ConsumeRequest represents a credit consumption request
type ConsumeRequest struct {
	Amount int `json:"amount" binding:"required"`
}

// ConsumeCredits deducts credits for feature usage
func (h *Handlers) ConsumeCredits(c *gin.Context) {
	var req ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequestJSON(c, err)
		return
	}

	if err := h.Ledger.Consume(req.Amount); err != nil {
		if errors.Is(err, services.ErrInvalidAmount) {
			response.ErrorJSON(c, http.StatusBadRequest, "Amount must be positive")
			return
		}
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to consume credits: "+err.Error())
		return
	}

	current, total := h.Ledger.Balance()
	response.SuccessJSON(c, gin.H{
		"current_credits": current,
		"total_credits":   total,
	})
}

// GetHistory returns recent credit history entries, newest first
func (h *Handlers) GetHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.ErrorJSON(c, http.StatusBadRequest, "Invalid limit")
			return
		}
		if parsed > 200 {
			parsed = 200
		}
		limit = parsed
	}

	entries, err := h.History.RecentHistory(h.Ledger.ProfileID(), limit)
	if err != nil {
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to load history: "+err.Error())
		return
	}

	response.SuccessJSON(c, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}
