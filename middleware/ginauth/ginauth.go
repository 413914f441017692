// Package ginauth adapts Engine.Authenticate to gin.
package ginauth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	goToken "github.com/MrEthical07/goToken"
	"github.com/MrEthical07/goToken/token"
)

// ClaimsKey is the gin context key holding *token.Claims.
const ClaimsKey = "gotoken.claims"

// Authenticate aborts with 401 unless the request carries a valid bearer
// token of kind. The request context is replaced with the one Authenticate
// returns so handlers see the client IP.
func Authenticate(engine *goToken.Engine, kind token.Kind, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ginauth")

	return func(c *gin.Context) {
		if engine == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx, claims, err := engine.Authenticate(c.Request.Context(), c.Request, kind)
		if err != nil {
			logger.Debug("token rejected", zap.String("path", c.FullPath()), zap.String("kind", string(kind)))
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Request = c.Request.WithContext(ctx)
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// Claims returns the claims Authenticate stored on c.
func Claims(c *gin.Context) (*token.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*token.Claims)
	return claims, ok
}
