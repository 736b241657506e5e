package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"propflow.app/assist/common/logger"
)

const (
	tenantHeader = "X-Tenant-ID"
	userHeader   = "X-User-ID"

	tenantKey = "identity.tenant_id"
	userKey   = "identity.user_id"
)

// Identity extracts the tenant and user scope set by the edge gateway.
// Every route behind it can rely on both being present; requests without
// them never reach a handler.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(tenantHeader)
		userID := c.GetHeader(userHeader)
		if tenantID == "" || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity headers"})
			return
		}

		c.Set(tenantKey, tenantID)
		c.Set(userKey, userID)

		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
			TenantID: logger.Str(tenantID),
			UserID:   logger.Str(userID),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// TenantID returns the tenant scope set by Identity.
func TenantID(c *gin.Context) string {
	return c.GetString(tenantKey)
}

// UserID returns the user scope set by Identity.
func UserID(c *gin.Context) string {
	return c.GetString(userKey)
}
