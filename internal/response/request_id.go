package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// ContextKeyRequestID is the Gin context key for the request ID.
	ContextKeyRequestID = "request_id"
	// ContextKeyStartedAt holds the time the request entered the router.
	ContextKeyStartedAt = "request_started_at"
	// HeaderRequestID is echoed back on every response.
	HeaderRequestID = "X-Request-ID"

	maxRequestIDLen = 64
)

// ResolveRequestID keeps a caller-supplied id when it is short and made of
// URL-safe characters, otherwise it mints a new UUID.
func ResolveRequestID(inbound string) string {
	if inbound == "" || len(inbound) > maxRequestIDLen {
		return uuid.NewString()
	}
	for _, r := range inbound {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return uuid.NewString()
		}
	}
	return inbound
}

// RequestID returns the id assigned to the current request. Outside the
// request middleware a fresh id is minted so envelopes are never anonymous.
func RequestID(c *gin.Context) string {
	if v, ok := c.Get(ContextKeyRequestID); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return uuid.NewString()
}
