package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/promptstack/promptstack-billing/internal/ledger"
	"github.com/promptstack/promptstack-billing/internal/models"
)

// CreditsAdminHandler serves management credit operations.
type CreditsAdminHandler struct {
	creditLedger ledger.Ledger
}

// NewCreditsAdminHandler constructs a CreditsAdminHandler.
func NewCreditsAdminHandler(creditLedger ledger.Ledger) *CreditsAdminHandler {
	return &CreditsAdminHandler{creditLedger: creditLedger}
}

// addCreditsRequest defines the body for credit additions.
type addCreditsRequest struct {
	UserID      uint64         `json:"user_id"`
	Amount      int64          `json:"amount"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
}

// Add credits a user account. The type selects bucket attribution:
// purchase and bonus count toward lifetime purchases, admin and
// monthly do not.
func (h *CreditsAdminHandler) Add(c *gin.Context) {
	var body addCreditsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}
	txnType := body.Type
	if txnType == "" {
		txnType = models.TxnTypeAdmin
	}

	txn, errAdd := h.creditLedger.Add(c.Request.Context(), body.UserID, body.Amount, txnType, body.Description, body.Metadata)
	if errAdd != nil {
		switch {
		case errors.Is(errAdd, ledger.ErrInvalidAmount), errors.Is(errAdd, ledger.ErrInvalidType):
			c.JSON(http.StatusBadRequest, gin.H{"error": errAdd.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "add credits failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction":   txn,
		"balance_after": txn.BalanceAfter,
	})
}

// monthlyCreditsRequest defines the body for allocation changes.
type monthlyCreditsRequest struct {
	UserID uint64  `json:"user_id"`
	OrgID  *uint64 `json:"org_id"`
}

// GrantMonthly installs the paid-tier monthly allocation, typically on
// a subscription-activated webhook.
func (h *CreditsAdminHandler) GrantMonthly(c *gin.Context) {
	var body monthlyCreditsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}

	if errGrant := h.creditLedger.GrantMonthlyCredits(c.Request.Context(), body.UserID, body.OrgID); errGrant != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "grant monthly credits failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// RemoveMonthly clears the monthly allocation on subscription
// cancellation. The unused remainder becomes expiring rollover.
func (h *CreditsAdminHandler) RemoveMonthly(c *gin.Context) {
	var body monthlyCreditsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}

	if errRemove := h.creditLedger.RemoveMonthlyCredits(c.Request.Context(), body.UserID); errRemove != nil {
		if errors.Is(errRemove, ledger.ErrAccountNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "remove monthly credits failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
