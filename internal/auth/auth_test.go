package auth

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/recargaspacuba/topup/internal/auth/config"
	"github.com/recargaspacuba/topup/internal/model"
)

const testSecret = "test-secret"

func newRequest(t *testing.T, token string) *http.Request {
	r, err := http.NewRequest(http.MethodPost, "/api/createOrder", nil)
	require.NoError(t, err)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestResolveIdentityToken(t *testing.T) {
	resolver := NewResolver(config.Config{JWTSecret: testSecret})

	token, err := NewToken(testSecret, "user-1", true, time.Hour)
	require.NoError(t, err)

	identity, err := resolver.ResolveIdentity(newRequest(t, token), "ignored")
	require.NoError(t, err)
	require.Equal(t, "user-1", identity.UID)
	require.Equal(t, model.AuthSourceToken, identity.Source)
	require.True(t, identity.EmailVerified)
}

func TestResolveIdentityBadSignature(t *testing.T) {
	resolver := NewResolver(config.Config{JWTSecret: testSecret})

	token, err := NewToken("other-secret", "user-1", true, time.Hour)
	require.NoError(t, err)

	_, err = resolver.ResolveIdentity(newRequest(t, token), "")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveIdentityExpired(t *testing.T) {
	resolver := NewResolver(config.Config{JWTSecret: testSecret})

	token, err := NewToken(testSecret, "user-1", true, -time.Minute)
	require.NoError(t, err)

	_, err = resolver.ResolveIdentity(newRequest(t, token), "")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveIdentityMissingStrict(t *testing.T) {
	resolver := NewResolver(config.Config{JWTSecret: testSecret})

	_, err := resolver.ResolveIdentity(newRequest(t, ""), "fallback")
	require.ErrorIs(t, err, ErrMissingAuth)
}

func TestResolveIdentityFallbackRelaxed(t *testing.T) {
	resolver := NewResolver(config.Config{JWTSecret: testSecret, Relaxed: true})

	identity, err := resolver.ResolveIdentity(newRequest(t, ""), " user-2 ")
	require.NoError(t, err)
	require.Equal(t, "user-2", identity.UID)
	require.Equal(t, model.AuthSourceBody, identity.Source)
}

func TestRequireVerifiedEmail(t *testing.T) {
	strict := NewResolver(config.Config{JWTSecret: testSecret})
	relaxed := NewResolver(config.Config{JWTSecret: testSecret, Relaxed: true})

	unverified := Identity{UID: "u", Source: model.AuthSourceToken, EmailVerified: false}
	verified := Identity{UID: "u", Source: model.AuthSourceToken, EmailVerified: true}

	require.ErrorIs(t, strict.RequireVerifiedEmail(unverified), ErrEmailNotVerified)
	require.NoError(t, strict.RequireVerifiedEmail(verified))
	require.NoError(t, relaxed.RequireVerifiedEmail(unverified))
}
