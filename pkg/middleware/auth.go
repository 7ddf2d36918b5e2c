package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prohmpiriya/facility-rental/pkg/response"
)

const (
	// ContextKeyUserID holds the authenticated subject
	ContextKeyUserID = "user_id"
	// ContextKeyRole holds the authenticated role
	ContextKeyRole = "role"

	// RoleAdmin is the role allowed to manage schedules and reservations
	RoleAdmin = "admin"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the access token claims issued by the identity provider
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// AuthConfig configures bearer token verification
type AuthConfig struct {
	Secret string
	Issuer string
}

// ParseToken verifies an HS256 token and returns its claims
func ParseToken(raw string, cfg *AuthConfig) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueToken signs an HS256 token; used by tests and local tooling
func IssueToken(cfg *AuthConfig, userID, role string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = userID
	if claims.Issuer == "" {
		claims.Issuer = cfg.Issuer
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{Role: role, RegisteredClaims: claims})
	return tok.SignedString([]byte(cfg.Secret))
}

// RequireAuth verifies the Authorization bearer token and sets user_id and role
func RequireAuth(cfg *AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", ErrMissingToken.Error(), "")
			return
		}

		claims, err := ParseToken(strings.TrimPrefix(header, "Bearer "), cfg)
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), "")
			return
		}

		c.Set(ContextKeyUserID, claims.Subject)
		c.Set(ContextKeyRole, claims.Role)
		c.Next()
	}
}

// RequireRole rejects requests whose role does not match
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextKeyRole) != role {
			response.Abort(c, http.StatusForbidden, "FORBIDDEN", "forbidden", role+" role required")
			return
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user ID
func GetUserID(c *gin.Context) (string, bool) {
	id := c.GetString(ContextKeyUserID)
	return id, id != ""
}

// IsAdmin reports whether the request was made by an administrator
func IsAdmin(c *gin.Context) bool {
	return c.GetString(ContextKeyRole) == RoleAdmin
}
