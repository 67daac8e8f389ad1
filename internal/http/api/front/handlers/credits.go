package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/promptstack/promptstack-billing/internal/ledger"
)

// CreditsHandler serves credit balance and history endpoints.
type CreditsHandler struct {
	creditLedger ledger.Ledger
}

// NewCreditsHandler constructs a CreditsHandler.
func NewCreditsHandler(creditLedger ledger.Ledger) *CreditsHandler {
	return &CreditsHandler{creditLedger: creditLedger}
}

// Balance returns the caller's spendable balance with its bucket
// breakdown.
func (h *CreditsHandler) Balance(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	balance, errGet := h.creditLedger.GetBalance(c.Request.Context(), userID)
	if errGet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query balance failed"})
		return
	}
	c.JSON(http.StatusOK, balance)
}

// Transactions returns the caller's ledger history, newest first.
func (h *CreditsHandler) Transactions(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	opts := ledger.HistoryOptions{Type: c.Query("type")}
	if raw := c.Query("limit"); raw != "" {
		if limit, errParse := strconv.Atoi(raw); errParse == nil {
			opts.Limit = limit
		}
	}
	if raw := c.Query("offset"); raw != "" {
		if offset, errParse := strconv.Atoi(raw); errParse == nil {
			opts.Offset = offset
		}
	}

	rows, total, errHistory := h.creditLedger.TransactionHistory(c.Request.Context(), userID, opts)
	if errHistory != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query transactions failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": rows,
		"total":        total,
	})
}
