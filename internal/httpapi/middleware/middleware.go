package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/suPer8Hu/mas-assistant/internal/auth"
	"github.com/suPer8Hu/mas-assistant/internal/common"
)

const (
	UserIDKey    = "user_id"
	ClaimsKey    = "claims"
	RequestIDKey = "request_id"

	RequestIDHeader = "X-Request-ID"
)

// RequestID reuses a sane incoming id or generates one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered",
					"path", c.Request.URL.Path,
					"request_id", c.GetString(RequestIDKey),
					"panic", rec,
					"stack", string(debug.Stack()),
				)
				if !c.Writer.Written() {
					common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}

func bearer(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// AuthRequired accepts only tokens whose subject is a local user id.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearer(c)
		if tok == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		claims, err := auth.ParseJWT(tok, secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		uid, ok := claims.UserID()
		if !ok {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		c.Set(ClaimsKey, claims)
		c.Set(UserIDKey, uid)
		c.Next()
	}
}

// OptionalAuth records verified claims when a valid token is present and
// passes anonymous requests through. An invalid token is rejected.
func OptionalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearer(c)
		if tok == "" {
			c.Next()
			return
		}
		claims, err := auth.ParseJWT(tok, secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid token")
			c.Abort()
			return
		}
		c.Set(ClaimsKey, claims)
		if uid, ok := claims.UserID(); ok {
			c.Set(UserIDKey, uid)
		}
		c.Next()
	}
}

// ClaimsFromContext returns the claims set by AuthRequired or OptionalAuth.
func ClaimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
