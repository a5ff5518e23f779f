package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Bearer token scopes. Analysts read and triage findings; filing a SAR is a
// separate privilege so a leaked dashboard token cannot submit reports.
//
// When no token is configured every route is open (development mode).
// Health and the websocket stream are always public.

// Scope is the privilege a route requires
type Scope string

const (
	ScopeAnalyst Scope = "analyst"
	ScopeFiling  Scope = "filing"

	scopeKey = "authScope"
)

// Tokens are the configured bearer secrets. An empty Filing token lets
// the analyst token file SARs as well.
type Tokens struct {
	Analyst string
	Filing  string
}

func (t Tokens) open() bool { return t.Analyst == "" && t.Filing == "" }

// grant returns the scope a presented token carries, or "" if it matches
// neither secret
func (t Tokens) grant(presented string) Scope {
	if t.Filing != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(t.Filing)) == 1 {
		return ScopeFiling
	}
	if t.Analyst != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(t.Analyst)) == 1 {
		if t.Filing == "" {
			return ScopeFiling
		}
		return ScopeAnalyst
	}
	return ""
}

func (s Scope) covers(required Scope) bool {
	return s == ScopeFiling || s == required
}

// AuthMiddleware requires a bearer token carrying the given scope
func AuthMiddleware(tokens Tokens, required Scope, logger *zap.Logger) gin.HandlerFunc {
	if tokens.open() && gin.Mode() == gin.ReleaseMode {
		logger.Warn("no auth token set in release mode; protected endpoints are publicly accessible",
			zap.String("scope", string(required)))
	}

	return func(c *gin.Context) {
		if tokens.open() {
			c.Set(scopeKey, ScopeFiling)
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing Authorization header",
				"hint":  "Use: Authorization: Bearer <token>",
			})
			return
		}

		presented, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || presented == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid Authorization header format"})
			return
		}

		granted := tokens.grant(presented)
		if granted == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Invalid or expired token"})
			return
		}
		if !granted.covers(required) {
			logger.Warn("token lacks scope",
				zap.String("granted", string(granted)),
				zap.String("required", string(required)),
				zap.String("path", c.FullPath()),
			)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Token is not permitted to " + scopeAction(required),
			})
			return
		}

		c.Set(scopeKey, granted)
		c.Next()
	}
}

// grantedScope returns the scope AuthMiddleware attached to the request
func grantedScope(c *gin.Context) Scope {
	if s, ok := c.Get(scopeKey); ok {
		if scope, ok := s.(Scope); ok {
			return scope
		}
	}
	return ""
}

func scopeAction(s Scope) string {
	if s == ScopeFiling {
		return "file SARs"
	}
	return "access analyst endpoints"
}
