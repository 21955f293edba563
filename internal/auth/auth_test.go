package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"

	"finitefield.org/storefront/internal/platform/kv"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("not-checked"))
	require.NoError(t, err)
	return token
}

func TestDecodeClaims(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{
		"id":    float64(17),
		"email": "mona@example.com",
		"name":  "Mona",
		"role":  "Admin",
		"exp":   float64(testNow.Add(time.Hour).Unix()),
		"iat":   float64(testNow.Unix()),
	})

	claims, err := DecodeClaims("Bearer " + token)
	require.NoError(t, err)
	require.Equal(t, "17", claims.Subject)
	require.Equal(t, "mona@example.com", claims.Email)
	require.Equal(t, "Mona", claims.Name)
	require.True(t, claims.HasRole(RoleAdmin))
	require.Equal(t, testNow.Add(time.Hour), claims.ExpiresAt)
	require.False(t, claims.Expired(testNow))
	require.True(t, claims.Expired(testNow.Add(time.Hour)))
}

func TestDecodeClaimsIgnoresSignatureAndRejectsGarbage(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"sub": "u1", "roles": []any{"customer", "admin"}})
	tampered := token[:len(token)-4] + "AAAA"

	claims, err := DecodeClaims(tampered)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, []string{"customer", "admin"}, claims.Roles)
	require.False(t, claims.Expired(testNow), "tokens without exp do not expire locally")

	for _, bad := range []string{"", "abc", "a.b", "a.b.c", "a.!!!.c"} {
		_, err := DecodeClaims(bad)
		require.ErrorIs(t, err, ErrMalformedToken, bad)
	}
}

func TestTokenStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	store := NewTokenStore(kv.SessionScope(backing, "01S"), func() time.Time { return testNow })

	require.False(t, store.Authenticated(ctx))
	_, err := store.Token(ctx)
	require.ErrorIs(t, err, ErrNoToken)

	token := signedToken(t, jwt.MapClaims{"sub": "u1", "exp": float64(testNow.Add(time.Minute).Unix())})
	require.NoError(t, store.Save(ctx, token))
	require.True(t, store.Authenticated(ctx))

	got, err := store.Token(ctx)
	require.NoError(t, err)
	require.Equal(t, token, got)

	raw, err := backing.Get(ctx, "session/01S/auth_token")
	require.NoError(t, err)
	require.Equal(t, token, string(raw))

	require.NoError(t, store.Logout(ctx))
	require.False(t, store.Authenticated(ctx))
	require.ErrorIs(t, store.Save(ctx, "garbage"), ErrMalformedToken)
}

func TestTokenStoreDropsExpiredToken(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	now := testNow
	store := NewTokenStore(backing, func() time.Time { return now })

	token := signedToken(t, jwt.MapClaims{"sub": "u1", "exp": float64(testNow.Add(time.Minute).Unix())})
	require.NoError(t, store.Save(ctx, token))

	now = testNow.Add(2 * time.Minute)
	require.False(t, store.Authenticated(ctx))
	_, err := backing.Get(ctx, TokenKey)
	require.ErrorIs(t, err, kv.ErrNotFound)
}

type failingDeleteStore struct {
	kv.Store
	err error
}

func (s failingDeleteStore) Delete(context.Context, string) error { return s.err }

func TestTokenStoreReportsFailedStaleTokenRemoval(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	deleteErr := errors.New("backend offline")
	now := testNow
	store := NewTokenStore(failingDeleteStore{Store: backing, err: deleteErr}, func() time.Time { return now })

	token := signedToken(t, jwt.MapClaims{"sub": "u1", "exp": float64(testNow.Add(time.Minute).Unix())})
	require.NoError(t, store.Save(ctx, token))

	now = testNow.Add(2 * time.Minute)
	_, err := store.Token(ctx)
	require.ErrorIs(t, err, ErrNoToken)
	require.ErrorIs(t, err, deleteErr)
	require.False(t, store.Authenticated(ctx))

	require.NoError(t, backing.Set(ctx, TokenKey, []byte("not-a-jwt")))
	_, err = store.Claims(ctx)
	require.ErrorIs(t, err, ErrNoToken)
	require.ErrorIs(t, err, deleteErr)
}
