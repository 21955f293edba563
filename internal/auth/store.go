package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"finitefield.org/storefront/internal/platform/kv"
)

// TokenKey is the session key holding the bearer token.
const TokenKey = "auth_token"

// ErrNoToken is returned when the session has no usable token.
var ErrNoToken = errors.New("auth: no token")

// TokenStore keeps one session's bearer token in its key/value namespace.
type TokenStore struct {
	store kv.Store
	now   func() time.Time
}

// NewTokenStore wraps a session-scoped store. now defaults to time.Now.
func NewTokenStore(store kv.Store, now func() time.Time) *TokenStore {
	if now == nil {
		now = time.Now
	}
	return &TokenStore{store: store, now: now}
}

// Save stores token after checking that it decodes.
func (s *TokenStore) Save(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if _, err := DecodeClaims(token); err != nil {
		return err
	}
	if err := s.store.Set(ctx, TokenKey, []byte(token)); err != nil {
		return fmt.Errorf("auth: save token: %w", err)
	}
	return nil
}

// Token returns the stored token when it is present, decodable and not expired. Unusable tokens are removed.
func (s *TokenStore) Token(ctx context.Context) (string, error) {
	token, _, err := s.current(ctx)
	return token, err
}

// Claims returns the decoded claims of the usable token.
func (s *TokenStore) Claims(ctx context.Context) (Claims, error) {
	_, claims, err := s.current(ctx)
	return claims, err
}

// Authenticated reports whether the session holds a usable token.
func (s *TokenStore) Authenticated(ctx context.Context) bool {
	_, _, err := s.current(ctx)
	return err == nil
}

// Logout removes the token.
func (s *TokenStore) Logout(ctx context.Context) error {
	if err := s.store.Delete(ctx, TokenKey); err != nil {
		return fmt.Errorf("auth: delete token: %w", err)
	}
	return nil
}

func (s *TokenStore) current(ctx context.Context) (string, Claims, error) {
	raw, err := s.store.Get(ctx, TokenKey)
	if errors.Is(err, kv.ErrNotFound) {
		return "", Claims{}, ErrNoToken
	}
	if err != nil {
		return "", Claims{}, fmt.Errorf("auth: read token: %w", err)
	}
	token := string(raw)
	claims, err := DecodeClaims(token)
	if err != nil || claims.Expired(s.now()) {
		if derr := s.store.Delete(ctx, TokenKey); derr != nil && !errors.Is(derr, kv.ErrNotFound) {
			return "", Claims{}, fmt.Errorf("%w: delete stale token: %w", ErrNoToken, derr)
		}
		return "", Claims{}, ErrNoToken
	}
	return token, claims, nil
}
