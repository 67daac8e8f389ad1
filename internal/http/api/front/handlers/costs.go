package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/promptstack/promptstack-billing/internal/costgov"
)

// CostsHandler serves cost governance endpoints.
type CostsHandler struct {
	governor costgov.Governor
}

// NewCostsHandler constructs a CostsHandler.
func NewCostsHandler(governor costgov.Governor) *CostsHandler {
	return &CostsHandler{governor: governor}
}

// Status returns the caller's position against their monthly cost cap.
func (h *CostsHandler) Status(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	status, errStatus := h.governor.UserCostStatus(c.Request.Context(), userID)
	if errStatus != nil {
		if errors.Is(errStatus, costgov.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query cost status failed"})
		return
	}
	c.JSON(http.StatusOK, status)
}
