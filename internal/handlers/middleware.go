package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xpanvictor/migoto-coach/internal/domains/learner"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
)

// Context keys set by AuthMiddleware.
const (
	CtxUserID = "userID"
	CtxToken  = "token"
	CtxClaims = "claims"
)

// TokenValidator is satisfied by *learner.Authenticator.
type TokenValidator interface {
	ValidateToken(tokenString string) (*learner.Claims, error)
}

// bearerToken reads the token from the Authorization header, falling back
// to the token query parameter browsers use for WebSocket upgrades.
func bearerToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return "", false
		}
		return strings.TrimPrefix(authHeader, "Bearer "), true
	}
	if tok := c.Query("token"); tok != "" {
		return tok, true
	}
	return "", false
}

// AuthMiddleware validates learner JWTs. With optional set, requests
// without a token pass through anonymously; a bad token is still rejected.
func AuthMiddleware(validator TokenValidator, optional bool, logger *Logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok || tokenString == "" {
			if optional && c.GetHeader("Authorization") == "" {
				c.Next()
				return
			}
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Authorization required"})
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(tokenString)
		if err != nil {
			logger.Debugf("token validation failed: %v", err)
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "Invalid token"})
			c.Abort()
			return
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxToken, tokenString)
		c.Set(CtxClaims, claims)
		c.Next()
	}
}

// CORSMiddleware handles CORS headers
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestLoggerMiddleware logs incoming requests
func RequestLoggerMiddleware(logger *Logger.Logger) gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		logger.Infow("request",
			"method", param.Method,
			"path", param.Path,
			"status", param.StatusCode,
			"latency", param.Latency,
			"client", param.ClientIP,
		)
		return ""
	})
}

// ErrorHandlerMiddleware recovers panics into a 500
func ErrorHandlerMiddleware(logger *Logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Errorf("panic recovered: %v", recovered)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	})
}
