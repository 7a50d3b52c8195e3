package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"printshop/analytics/utils"
)

const (
	APIKeyHeader = "X-API-KEY"
	tokenCookie  = "jwt_token"
)

// AuthRequired admits dashboard operators. A request passes with the shared
// service key in X-API-KEY, or with a valid JWT from the jwt_token cookie or
// a Bearer Authorization header. An empty apiKey disables the key path.
func AuthRequired(tokens *utils.TokenIssuer, apiKey string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := c.GetHeader(APIKeyHeader); apiKey != "" && key != "" &&
			subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
			c.Set("auth_method", "api_key")
			c.Next()
			return
		}

		tokenString, err := c.Cookie(tokenCookie)
		if err != nil || tokenString == "" {
			tokenString = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if tokenString == "" {
			logger.Debug("no operator token in cookie or header", zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: No token provided"})
			return
		}

		claims, err := tokens.ValidateJWT(tokenString)
		if err != nil {
			logger.Debug("invalid operator token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid or expired token"})
			return
		}

		c.Set("auth_method", "jwt")
		c.Set("operator_id", claims.OperatorID)
		c.Set("operator_email", claims.Email)
		c.Next()
	}
}
