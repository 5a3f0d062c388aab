package delivery

import (
	"net/http"
	"strings"

	"github.com/salutethegenius/kemiscrm-sub000/internal/auth"

	"github.com/gin-gonic/gin"
)

const (
	userIDKey   = "userID"
	tokenCookie = "access_token"
)

// AuthMiddleware accepts a bearer token or the access_token cookie and puts
// the caller's user id on the context.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
				c.Abort()
				return
			}
			token = parts[1]
		} else if cookie, err := c.Cookie(tokenCookie); err == nil {
			token = cookie
		}

		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		userID, err := auth.ValidateToken(jwtSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the id set by AuthMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
