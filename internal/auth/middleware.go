package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/cryptoguard/internal/account"
	"github.com/mbd888/cryptoguard/internal/logging"
)

const (
	// ContextKeyAPIKey is the key for storing API key in gin context
	ContextKeyAPIKey = "apiKey"
	// ContextKeyUser is the key for storing the authenticated *account.User
	ContextKeyUser = "authUser"
	// AdminSecretHeader carries the operator secret for admin routes.
	AdminSecretHeader = "X-Admin-Secret"
)

// Middleware extracts and validates the API key and resolves its user.
// Sets apiKey and authUser in context if valid; never aborts.
func Middleware(m *Manager, users account.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := tokenFrom(c)
		if raw == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key, err := m.ValidateKey(ctx, raw)
		if err != nil {
			c.Next()
			return
		}
		u, err := users.Get(ctx, key.UserID)
		if err != nil {
			logging.L(ctx).Warn("api key for missing user", "key_id", key.ID, "user_id", key.UserID, "error", err)
			c.Next()
			return
		}

		c.Set(ContextKeyAPIKey, key)
		c.Set(ContextKeyUser, u)
		c.Request = c.Request.WithContext(logging.WithUserID(ctx, u.ID))
		c.Next()
	}
}

// tokenFrom reads the key from Authorization, X-API-Key, or, for websocket
// upgrades that cannot set headers from a browser, the token query param.
func tokenFrom(c *gin.Context) string {
	if v := c.GetHeader("Authorization"); v != "" {
		return v
	}
	if v := c.GetHeader("X-API-Key"); v != "" {
		return v
	}
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return c.Query("token")
	}
	return ""
}

// RequireAuth middleware rejects requests without valid auth
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetUser(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer sk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin admits enterprise users, or any request carrying the
// operator secret when one is configured.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret != "" {
			given := c.GetHeader(AdminSecretHeader)
			if given != "" {
				if subtle.ConstantTimeCompare([]byte(given), []byte(secret)) == 1 {
					c.Next()
					return
				}
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "forbidden",
					"message": "Invalid admin secret.",
				})
				return
			}
		}

		u, ok := GetUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required.",
			})
			return
		}
		if !u.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin access requires the enterprise role.",
			})
			return
		}
		c.Next()
	}
}

// GetAPIKey returns the API key from context (if authenticated)
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	k, ok := key.(*APIKey)
	return k, ok
}

// GetUser returns the authenticated user.
func GetUser(c *gin.Context) (*account.User, bool) {
	v, exists := c.Get(ContextKeyUser)
	if !exists {
		return nil, false
	}
	u, ok := v.(*account.User)
	return u, ok && u != nil
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, ok := GetUser(c)
	return ok
}
