package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/provalivre/exam-engine/internal/response"
	"github.com/provalivre/exam-engine/internal/service"
)

// ContextKeyClaims is the Gin context key for the validated token claims.
const ContextKeyClaims = "claims"

// TokenValidator verifies bearer tokens.
type TokenValidator interface {
	ValidateToken(tokenStr string) (*service.Claims, error)
}

// tokenSource extracts a raw token from the request, reporting false when
// the source is absent.
type tokenSource func(c *gin.Context) (string, bool)

func fromHeader(c *gin.Context) (string, bool) {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// fromQuery serves EventSource and WebSocket clients, which cannot set headers.
func fromQuery(c *gin.Context) (string, bool) {
	token := c.Query("token")
	return token, token != ""
}

// RequireJWT validates the bearer token, or the ?token= query parameter, and
// stores its claims in the context. Tokens without a company are rejected
// since every route is company scoped.
func RequireJWT(auth TokenValidator) gin.HandlerFunc {
	return authenticate(auth, "", fromHeader, fromQuery)
}

// RequireStudentWSAuth validates a student token passed as ?token= on a
// WebSocket upgrade request.
func RequireStudentWSAuth(auth TokenValidator) gin.HandlerFunc {
	return authenticate(auth, service.RoleStudent, fromQuery)
}

func authenticate(auth TokenValidator, role service.Role, sources ...tokenSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			tokenStr string
			found    bool
		)
		for _, source := range sources {
			if tokenStr, found = source(c); found {
				break
			}
		}
		if !found {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := auth.ValidateToken(tokenStr)
		if err != nil || claims.CompanyID <= 0 {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}
		if role != "" && claims.Role != role {
			response.AbortFail(c, http.StatusForbidden, forbiddenCode(role))
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims returns the claims stored by RequireJWT, or nil.
func GetClaims(c *gin.Context) *service.Claims {
	v, ok := c.Get(ContextKeyClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*service.Claims)
	return claims
}
