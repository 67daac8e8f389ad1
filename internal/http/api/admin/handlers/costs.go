package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/promptstack/promptstack-billing/internal/costgov"
)

// CostsAdminHandler serves management cost governance operations.
type CostsAdminHandler struct {
	governor costgov.Governor
}

// NewCostsAdminHandler constructs a CostsAdminHandler.
func NewCostsAdminHandler(governor costgov.Governor) *CostsAdminHandler {
	return &CostsAdminHandler{governor: governor}
}

// throttleRequest defines the body for throttle transitions.
type throttleRequest struct {
	UserID uint64 `json:"user_id"`
	Reason string `json:"reason"`
}

// Throttle blocks a user's paid usage. Manual throttles survive the
// monthly cost reset.
func (h *CostsAdminHandler) Throttle(c *gin.Context) {
	var body throttleRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}
	reason := body.Reason
	if reason == "" {
		reason = "throttled by administrator"
	}

	if errThrottle := h.governor.ThrottleUser(c.Request.Context(), body.UserID, reason); errThrottle != nil {
		if errors.Is(errThrottle, costgov.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "throttle failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Unthrottle restores a user's paid usage.
func (h *CostsAdminHandler) Unthrottle(c *gin.Context) {
	var body throttleRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing user_id"})
		return
	}

	if errUnthrottle := h.governor.UnthrottleUser(c.Request.Context(), body.UserID); errUnthrottle != nil {
		if errors.Is(errUnthrottle, costgov.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unthrottle failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Analytics returns recorded usage grouped by model, most expensive
// first.
func (h *CostsAdminHandler) Analytics(c *gin.Context) {
	filter := costgov.AnalyticsFilter{Model: c.Query("model")}
	if raw := c.Query("user_id"); raw != "" {
		userID, errParse := strconv.ParseUint(raw, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		filter.UserID = &userID
	}
	if raw := c.Query("limit"); raw != "" {
		if limit, errParse := strconv.Atoi(raw); errParse == nil {
			filter.Limit = limit
		}
	}
	if raw := c.Query("from"); raw != "" {
		from, errParse := time.Parse(time.RFC3339, raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
		filter.From = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, errParse := time.Parse(time.RFC3339, raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
		filter.To = &to
	}

	rows, errQuery := h.governor.CostAnalytics(c.Request.Context(), filter)
	if errQuery != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query analytics failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": rows})
}

// Metrics returns platform-wide cost totals for dashboards.
func (h *CostsAdminHandler) Metrics(c *gin.Context) {
	out, errQuery := h.governor.AggregateCostMetrics(c.Request.Context())
	if errQuery != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query metrics failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}
