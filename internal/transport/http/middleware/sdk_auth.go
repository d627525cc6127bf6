package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"eventpipe/internal/core/domain/credential"
	appErrors "eventpipe/pkg/errors"
	"eventpipe/pkg/response"
)

// contextKey namespaces values this middleware sets on the gin context.
type contextKey string

const (
	AuthContextKey contextKey = "auth_context"
	UserIDKey      contextKey = "user_id"
)

// AuthContext carries the resolved identity of the caller presenting an API key.
type AuthContext struct {
	UserID string
	Role   string
}

// SDKAuthMiddleware authenticates ingest requests against the credential store.
type SDKAuthMiddleware struct {
	store credential.Store
}

func NewSDKAuthMiddleware(store credential.Store) *SDKAuthMiddleware {
	return &SDKAuthMiddleware{store: store}
}

// RequireAPIKey extracts x-api-key (or Authorization: Bearer), validates its
// shape, looks up the hash against the credential store, and rejects
// missing/malformed/revoked/expired keys with the ingest path's stable codes.
func (m *SDKAuthMiddleware) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := extractAPIKey(c)
		if rawKey == "" {
			response.Error(c, appErrors.NewAppError(appErrors.MissingAPIKeyError, "API key required", "", nil))
			c.Abort()
			return
		}

		if err := credential.ValidateFormat(rawKey); err != nil {
			response.Error(c, appErrors.NewInvalidAPIKeyError("malformed key"))
			c.Abort()
			return
		}

		hash := credential.HashKey(rawKey)
		cred, err := m.store.LookupByHash(c.Request.Context(), hash)
		if err != nil {
			response.Error(c, appErrors.NewInvalidAPIKeyError("unknown key"))
			c.Abort()
			return
		}

		now := time.Now().UTC()
		if cred.Revoked() {
			response.Error(c, appErrors.NewInvalidAPIKeyError("revoked key"))
			c.Abort()
			return
		}
		if cred.Expired(now) {
			response.Error(c, appErrors.NewInvalidAPIKeyError("expired key"))
			c.Abort()
			return
		}

		c.Set(string(AuthContextKey), AuthContext{UserID: cred.UserID, Role: cred.Role})
		c.Set(string(UserIDKey), cred.UserID)
		c.Next()
	}
}

func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader("x-api-key"); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// GetAuthContext retrieves the resolved auth context set by RequireAPIKey.
func GetAuthContext(c *gin.Context) (AuthContext, bool) {
	v, exists := c.Get(string(AuthContextKey))
	if !exists {
		return AuthContext{}, false
	}
	ac, ok := v.(AuthContext)
	return ac, ok
}

// GetSourceUserID retrieves the authenticated API-key owner's user id.
func GetSourceUserID(c *gin.Context) string {
	if v, exists := c.Get(string(UserIDKey)); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
