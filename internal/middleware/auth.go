// JWT bearer authentication middleware for the runbox API.
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidAuthHeader marks a malformed Authorization header.
	ErrInvalidAuthHeader = errors.New("authorization header must be 'Bearer <token>'")
)

// RequireAuth validates JWT bearer tokens signed with the shared secret. An
// empty secret disables authentication entirely (open deployments).
func RequireAuth(secret string) gin.HandlerFunc {
	if secret == "" {
		return func(c *gin.Context) { c.Next() }
	}
	key := []byte(secret)

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "Authorization header is required", "AUTH_HEADER_MISSING")
			return
		}

		token, err := extractBearerToken(authHeader)
		if err != nil {
			abortUnauthorized(c, err.Error(), "INVALID_AUTH_HEADER")
			return
		}

		claims := jwt.MapClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return key, nil
		})
		if err != nil || !parsed.Valid {
			code := "INVALID_TOKEN"
			if errors.Is(err, jwt.ErrTokenExpired) {
				code = "TOKEN_EXPIRED"
			}
			abortUnauthorized(c, "Invalid token", code)
			return
		}

		if sub, ok := claims["sub"].(string); ok {
			c.Set("client_id", sub)
		}
		c.Next()
	}
}

func extractBearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrInvalidAuthHeader
	}
	return parts[1], nil
}

func abortUnauthorized(c *gin.Context, msg, code string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Error:     msg,
		Code:      code,
		Timestamp: time.Now(),
		RequestID: c.GetString("request_id"),
	})
}
