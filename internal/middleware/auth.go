package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/anurag-kawade/projecthub-chat/internal/auth"
	"github.com/anurag-kawade/projecthub-chat/internal/models"
)

// ContextKeyPrincipal is where the validated principal lives in the gin
// context. Handlers read it through GetPrincipal, never by key.
const ContextKeyPrincipal = "principal"

// AuthMiddleware validates the session token and attaches the principal.
//
// The token arrives either as "Authorization: Bearer <token>" or, for the
// websocket upgrade where browsers cannot set headers, as a "token" query
// parameter. Both paths resolve identity through the same auth.ParseToken,
// so the HTTP endpoints and the realtime layer authenticate identically.
//
// No derivable principal means the request (or connection attempt) is
// rejected here; nothing downstream ever sees an unauthenticated request.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing session token",
			})
			return
		}

		claims, err := auth.ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired session token",
			})
			return
		}

		c.Set(ContextKeyPrincipal, claims.Principal())
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// GetPrincipal extracts the authenticated principal set by AuthMiddleware.
// The zero principal (invalid kind, id 0) comes back if the middleware
// never ran; every authorization check downstream fails closed on it.
func GetPrincipal(c *gin.Context) models.Principal {
	val, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return models.Principal{}
	}
	p, ok := val.(models.Principal)
	if !ok {
		return models.Principal{}
	}
	return p
}
