package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/promptstack/promptstack-billing/internal/config"
	"github.com/promptstack/promptstack-billing/internal/costgov"
	"github.com/promptstack/promptstack-billing/internal/http/api/admin/handlers"
	"github.com/promptstack/promptstack-billing/internal/ledger"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers management routes. All routes under
// /v0/admin require the management secret; /healthz and /metrics are
// open for probes and scrapers.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, adminCfg config.AdminConfig, creditLedger ledger.Ledger, governor costgov.Governor) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	group := r.Group("/v0/admin")
	group.Use(adminAuthMiddleware(adminCfg.Secret))

	creditsHandler := handlers.NewCreditsAdminHandler(creditLedger)
	group.POST("/credits/add", creditsHandler.Add)
	group.POST("/credits/grant-monthly", creditsHandler.GrantMonthly)
	group.POST("/credits/remove-monthly", creditsHandler.RemoveMonthly)

	executionHandler := handlers.NewExecutionHandler(creditLedger, governor)
	group.POST("/execution/authorize", executionHandler.Authorize)
	group.POST("/execution/settle", executionHandler.Settle)

	costsHandler := handlers.NewCostsAdminHandler(governor)
	group.POST("/costs/throttle", costsHandler.Throttle)
	group.POST("/costs/unthrottle", costsHandler.Unthrottle)
	group.GET("/costs/analytics", costsHandler.Analytics)
	group.GET("/costs/metrics", costsHandler.Metrics)
}

// adminAuthMiddleware requires the management secret as a bearer token.
func adminAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "management api disabled"})
			return
		}

		authHeader := c.GetHeader("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if authHeader == "" || token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		token = strings.TrimSpace(token)
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid management secret"})
			return
		}
		c.Next()
	}
}
