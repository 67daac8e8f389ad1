package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/promptstack/promptstack-billing/internal/costgov"
	"github.com/promptstack/promptstack-billing/internal/ledger"
	"github.com/promptstack/promptstack-billing/internal/pricing"
)

// ExecutionHandler is the service-to-service gate for playground runs:
// authorize before the model call, settle after it.
type ExecutionHandler struct {
	creditLedger ledger.Ledger
	governor     costgov.Governor
}

// NewExecutionHandler constructs an ExecutionHandler.
func NewExecutionHandler(creditLedger ledger.Ledger, governor costgov.Governor) *ExecutionHandler {
	return &ExecutionHandler{creditLedger: creditLedger, governor: governor}
}

// authorizeRequest defines the body for pre-call authorization.
type authorizeRequest struct {
	UserID          uint64 `json:"user_id"`
	Model           string `json:"model"`
	EstimatedTokens int64  `json:"estimated_tokens"`
	CreditCost      int64  `json:"credit_cost"`
}

// Authorize runs the pre-call gates: USD cost estimate against the
// monthly cap, then the credit balance. Denials carry the reason; both
// gates passing does not reserve anything, Settle re-checks under the
// row lock.
func (h *ExecutionHandler) Authorize(c *gin.Context) {
	var body authorizeRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}
	if body.EstimatedTokens < 0 || body.CreditCost <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid estimate"})
		return
	}

	estimate := pricing.EstimateCost(body.EstimatedTokens, body.Model)

	decision, errCheck := h.governor.CanAffordRequest(c.Request.Context(), body.UserID, estimate.EstimatedCost)
	if errCheck != nil {
		if errors.Is(errCheck, costgov.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cost check failed"})
		return
	}
	if !decision.Allowed {
		c.JSON(http.StatusOK, gin.H{
			"allowed": false,
			"reason":  decision.Reason,
		})
		return
	}

	affordable, errAfford := h.creditLedger.CanAfford(c.Request.Context(), body.UserID, body.CreditCost)
	if errAfford != nil {
		if errors.Is(errAfford, ledger.ErrInvalidAmount) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credit cost"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "balance check failed"})
		return
	}
	if !affordable {
		c.JSON(http.StatusOK, gin.H{
			"allowed": false,
			"reason":  "insufficient credits",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"allowed":            true,
		"model":              estimate.Model,
		"estimated_cost_usd": estimate.EstimatedCost,
	})
}

// settleRequest defines the body for post-call settlement.
type settleRequest struct {
	UserID       uint64 `json:"user_id"`
	SessionID    string `json:"session_id"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	CreditCost   int64  `json:"credit_cost"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Description  string `json:"description"`
}

// Settle charges an executed run: the pre-call credit estimate is
// spent and the actual provider-reported cost is recorded. The credit
// spend is authoritative; a cost recording failure is reported but
// does not undo the spend.
func (h *ExecutionHandler) Settle(c *gin.Context) {
	var body settleRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}
	if body.InputTokens < 0 || body.OutputTokens < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token counts"})
		return
	}

	description := body.Description
	if description == "" {
		description = "playground run"
	}
	txn, errSpend := h.creditLedger.Spend(c.Request.Context(), body.UserID, body.CreditCost, body.SessionID, description, map[string]any{
		"model": body.Model,
	})
	if errSpend != nil {
		switch {
		case errors.Is(errSpend, ledger.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credit cost"})
		case errors.Is(errSpend, ledger.ErrInsufficientCredits):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient credits"})
		case errors.Is(errSpend, ledger.ErrAccountNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "spend failed"})
		}
		return
	}

	actualCost := pricing.ActualCost(body.InputTokens, body.OutputTokens, body.Model)
	meta := costgov.UsageMeta{
		Provider:     body.Provider,
		Model:        body.Model,
		SessionID:    body.SessionID,
		InputTokens:  body.InputTokens,
		OutputTokens: body.OutputTokens,
		RequestedAt:  time.Now().UTC(),
	}
	costRecorded := true
	if errRecord := h.governor.RecordCost(c.Request.Context(), body.UserID, actualCost, meta); errRecord != nil {
		costRecorded = false
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction":     txn,
		"balance_after":   txn.BalanceAfter,
		"actual_cost_usd": actualCost,
		"cost_recorded":   costRecorded,
	})
}
