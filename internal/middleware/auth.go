package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tickhole/tickhole/internal/auth"
	"github.com/tickhole/tickhole/internal/db/models"
)

const (
	// ActorKey is the gin.Context key under which the resolved *models.User is stored.
	ActorKey = "actor"
	// UserIDKey is the gin.Context key under which the resolved user's ID is stored.
	UserIDKey = "user_id"
)

// AuthMiddleware validates the bearer token and resolves it to a live user
// account. The resolver re-reads the user row on every request, so a token
// minted before a suspension or deletion stops working immediately — token
// claims are never trusted for account existence or status.
//
// On success the resolved user is stored in the gin context under ActorKey
// (and its ID under UserIDKey). Every failure path responds 401: callers
// cannot distinguish a missing account from a suspended one beyond the
// error message.
func AuthMiddleware(resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		token = strings.TrimSpace(token)

		user, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrUnauthenticated):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Invalid credentials",
				})
			case errors.Is(err, auth.ErrUserNotFound):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "User not found",
				})
			case errors.Is(err, auth.ErrSuspended):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Account suspended",
				})
			default:
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to load user",
				})
			}
			return
		}

		c.Set(ActorKey, user)
		c.Set(UserIDKey, user.ID)

		c.Next()
	}
}

// GetActor returns the authenticated user stored by AuthMiddleware, or
// (nil, false) when the request passed through no auth layer.
func GetActor(c *gin.Context) (*models.User, bool) {
	val, exists := c.Get(ActorKey)
	if !exists {
		return nil, false
	}
	user, ok := val.(*models.User)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}
