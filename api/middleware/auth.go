package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/models"
)

// Auth guards the status server's progress and metrics routes with the keys
// from HARVEST_STATUS_KEYS. A scraper dashboard or Prometheus job presents
// its key as either
//
//	X-API-Key: <key>
//	Authorization: Bearer <key>
//
// With no keys configured the routes stay open, which suits a status server
// bound to localhost.
func Auth(apiKeys []string) gin.HandlerFunc {
	keys := make(map[string]struct{}, len(apiKeys))
	for _, k := range apiKeys {
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	if len(keys) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := presentedKey(c)
		if key == "" {
			unauthorized(c, "status key required: send X-API-Key or Authorization: Bearer")
			return
		}
		if _, ok := keys[key]; !ok {
			unauthorized(c, "unknown status key")
			return
		}
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
		Success: false,
		Error:   &models.ErrorDetail{Code: models.ErrCodeUnauthorized, Message: msg},
	})
}

// presentedKey reads X-API-Key, falling back to a bearer token.
func presentedKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
