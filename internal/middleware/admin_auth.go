package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/pkg/jwt"
)

// AdminContextKey is the key used to store the admin identity in the Gin context
const AdminContextKey = "admin"

// AdminContext represents the authenticated operator
type AdminContext struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// AdminAuth validates admin bearer tokens. When admin tokens are not
// configured every admin route answers 503.
func AdminAuth(jwtService *jwt.Service, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.WithFields(logrus.Fields{
			"path":      c.Request.URL.Path,
			"client_ip": c.ClientIP(),
		})

		if jwtService == nil || !jwtService.AdminEnabled() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error":   "admin_disabled",
				"message": "Admin API is not configured",
			})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Warn("AUTH FAILED: Missing authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authorization header is required",
				"code":    "MISSING_AUTH_HEADER",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			log.Warn("AUTH FAILED: Invalid auth format")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid authorization header format. Expected: Bearer <token>",
				"code":    "INVALID_AUTH_FORMAT",
			})
			return
		}
		tokenString := strings.TrimSpace(parts[1])

		claims, err := jwtService.ValidateAdminToken(tokenString)
		if err != nil {
			if jwtService.IsTokenExpired(tokenString) {
				log.WithError(err).Warn("AUTH FAILED: Token expired")
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "token_expired",
					"message": "Admin token has expired",
					"code":    "TOKEN_EXPIRED",
				})
				return
			}
			log.WithError(err).Warn("AUTH FAILED: Invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_token",
				"message": "Invalid admin token",
				"code":    "INVALID_TOKEN",
			})
			return
		}

		c.Set(AdminContextKey, AdminContext{
			Username: claims.Username,
			Roles:    claims.Roles,
		})
		c.Next()
	}
}

// RequireRole rejects admins that hold none of roles
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		admin, exists := GetAdminContext(c)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Admin context not found. Auth middleware may not be applied.",
				"code":    "MISSING_ADMIN_CONTEXT",
			})
			return
		}

		for _, required := range roles {
			for _, role := range admin.Roles {
				if role == required {
					c.Next()
					return
				}
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You don't have permission to access this resource",
			"code":    "INSUFFICIENT_PERMISSIONS",
		})
	}
}

// GetAdminContext retrieves the admin identity from the Gin context
func GetAdminContext(c *gin.Context) (AdminContext, bool) {
	value, exists := c.Get(AdminContextKey)
	if !exists {
		return AdminContext{}, false
	}
	admin, ok := value.(AdminContext)
	return admin, ok
}
