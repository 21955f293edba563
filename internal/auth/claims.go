// Package auth keeps the storefront bearer token for a session and decodes it for display.
//
// Tokens are decoded without signature verification. Expiry and role checks here only shape the UX (which
// cart to use, what to show); the backend enforces authorization on every call.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// RoleAdmin is the role claim value the backend issues to staff accounts.
const RoleAdmin = "admin"

// ErrMalformedToken is returned when a token is not a three-segment JWT with a JSON payload.
var ErrMalformedToken = errors.New("auth: malformed token")

// Claims are the identity fields the storefront reads from a token payload.
type Claims struct {
	Subject   string
	Email     string
	Name      string
	Roles     []string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// DecodeClaims decodes the payload segment of token. The signature is not checked.
func DecodeClaims(token string) (Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if strings.Count(token, ".") != 2 {
		return Claims{}, ErrMalformedToken
	}
	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mapClaims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	claims := Claims{
		Subject:   firstClaim(mapClaims, "sub", "id", "userId", "user_id"),
		Email:     firstClaim(mapClaims, "email"),
		Name:      firstClaim(mapClaims, "name", "username"),
		Roles:     rolesFromClaims(mapClaims),
		ExpiresAt: timeClaim(mapClaims, "exp"),
		IssuedAt:  timeClaim(mapClaims, "iat"),
	}
	return claims, nil
}

// Expired reports whether exp lies at or before now. Tokens without exp never expire locally.
func (c Claims) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(c.ExpiresAt)
}

// HasRole reports whether the claims carry role (case-insensitive).
func (c Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func firstClaim(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		switch v := claims[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}

func rolesFromClaims(claims jwt.MapClaims) []string {
	var roles []string
	add := func(v any) {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			roles = append(roles, strings.ToLower(strings.TrimSpace(s)))
		}
	}
	add(claims["role"])
	if list, ok := claims["roles"].([]any); ok {
		for _, item := range list {
			add(item)
		}
	}
	if isAdmin, ok := claims["isAdmin"].(bool); ok && isAdmin {
		add(RoleAdmin)
	}
	return roles
}

func timeClaim(claims jwt.MapClaims, key string) time.Time {
	switch v := claims[key].(type) {
	case float64:
		if v <= 0 {
			return time.Time{}
		}
		return time.Unix(int64(v), 0).UTC()
	default:
		return time.Time{}
	}
}
