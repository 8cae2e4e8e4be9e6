package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/provalivre/exam-engine/internal/response"
	"github.com/provalivre/exam-engine/internal/service"
)

// RequireRole lets the request through only when the claims carry the role.
// Must run after RequireJWT.
func RequireRole(role service.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if claims.Role != role {
			response.AbortFail(c, http.StatusForbidden, forbiddenCode(role))
			return
		}
		c.Next()
	}
}

func forbiddenCode(required service.Role) response.ErrCode {
	switch required {
	case service.RoleStudent:
		return response.ErrStudentAccessOnly
	case service.RoleStaff:
		return response.ErrStaffAccessOnly
	default:
		return response.ErrForbidden
	}
}
