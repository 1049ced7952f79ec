package session

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
)

const ginActorKey = "lotchain_actor"

// RequireActor returns a Gin middleware that enforces a valid Bearer session
// token and stores the actor on both the gin and request contexts.
func RequireActor(tokens *TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer session token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid session token",
			})
			return
		}

		setActor(c, claims.Actor())
		c.Next()
	}
}

// RequireRole aborts with 403 unless the actor set by RequireActor has one
// of roles.
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := ActorFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		if !slices.Contains(roles, a.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "role " + string(a.Role) + " is not allowed here",
			})
			return
		}
		c.Next()
	}
}

// ActorFrom returns the actor stored by RequireActor.
func ActorFrom(c *gin.Context) (Actor, bool) {
	v, ok := c.Get(ginActorKey)
	if !ok {
		return Actor{}, false
	}
	a, ok := v.(Actor)
	return a, ok
}

func setActor(c *gin.Context, a Actor) {
	c.Set(ginActorKey, a)
	c.Request = c.Request.WithContext(NewContext(c.Request.Context(), a))
}
