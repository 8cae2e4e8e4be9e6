package service

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail validation.
var ErrInvalidToken = errors.New("invalid token")

// Role distinguishes company staff from students.
type Role string

const (
	RoleStaff   Role = "staff"
	RoleStudent Role = "student"
)

// Claims are the identity fields carried by bearer tokens. Tokens are issued
// by the identity service; this service only verifies them.
type Claims struct {
	jwt.RegisteredClaims
	Role      Role `json:"role"`
	UserID    int  `json:"user_id"`
	CompanyID int  `json:"company_id"`
}

// AuthService validates bearer tokens.
type AuthService struct {
	secret []byte
}

// NewAuthService creates a new AuthService.
func NewAuthService(secret string) *AuthService {
	return &AuthService{secret: []byte(secret)}
}

// ValidateToken parses and validates an HMAC-signed JWT, returning its claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID <= 0 || claims.CompanyID <= 0 {
		return nil, fmt.Errorf("%w: missing identity", ErrInvalidToken)
	}
	if claims.Role != RoleStaff && claims.Role != RoleStudent {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}
