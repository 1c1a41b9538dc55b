package verifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cohort/pkg/observability"
)

const testSecret = "test-project-jwt-secret"

func signHS256(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func userClaims(sub, email string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"role":  "authenticated",
		"aud":   "authenticated",
		"exp":   exp.Unix(),
		"iat":   time.Now().Unix(),
	}
}

func sharedSecretConfig() Config {
	cfg := DefaultConfig()
	cfg.Mode = ModeSharedSecret
	cfg.JWTSecret = testSecret
	cfg.Leeway = 0
	return cfg
}

func TestCheckShape(t *testing.T) {
	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{"empty", "", false},
		{"one segment", "abc", false},
		{"two segments", "abc.def", false},
		{"four segments", "a.b.c.d", false},
		{"empty signature", "a.b.", false},
		{"empty header", ".b.c", false},
		{"three segments", "a.b.c", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkShape(tt.token)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Equal(t, Malformed, KindOf(err))
		})
	}
}

func TestSharedSecretVerify(t *testing.T) {
	v := NewSharedSecret(sharedSecretConfig())
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		exp := time.Now().Add(time.Hour).Truncate(time.Second)
		token := signHS256(t, testSecret, userClaims("sub-1", "ada@example.com", exp))

		claims, err := v.Verify(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "sub-1", claims.SubjectID)
		assert.Equal(t, "ada@example.com", claims.Email)
		assert.Equal(t, "authenticated", claims.Role)
		assert.True(t, claims.ExpiresAt.Equal(exp))
	})

	t.Run("expired token", func(t *testing.T) {
		token := signHS256(t, testSecret, userClaims("sub-1", "ada@example.com", time.Now().Add(-time.Minute)))
		_, err := v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := signHS256(t, "another-secret", userClaims("sub-1", "ada@example.com", time.Now().Add(time.Hour)))
		_, err := v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := userClaims("sub-1", "ada@example.com", time.Now().Add(time.Hour))
		claims["aud"] = "service_role"
		_, err := v.Verify(ctx, signHS256(t, testSecret, claims))
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("missing exp", func(t *testing.T) {
		claims := userClaims("sub-1", "ada@example.com", time.Now())
		delete(claims, "exp")
		_, err := v.Verify(ctx, signHS256(t, testSecret, claims))
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("missing sub", func(t *testing.T) {
		claims := userClaims("", "ada@example.com", time.Now().Add(time.Hour))
		_, err := v.Verify(ctx, signHS256(t, testSecret, claims))
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("other HMAC algorithm", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512,
			userClaims("sub-1", "ada@example.com", time.Now().Add(time.Hour))).SignedString([]byte(testSecret))
		require.NoError(t, err)
		_, err = v.Verify(ctx, token)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("garbage segments", func(t *testing.T) {
		_, err := v.Verify(ctx, "not.a.jwt")
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestSharedSecretLeeway(t *testing.T) {
	cfg := sharedSecretConfig()
	cfg.Leeway = time.Minute
	v := NewSharedSecret(cfg)

	token := signHS256(t, testSecret, userClaims("sub-1", "", time.Now().Add(-10*time.Second)))
	claims, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Empty(t, claims.Email)
}

func TestSharedSecretClock(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	token := signHS256(t, testSecret, userClaims("sub-1", "a@example.com", exp))

	v := NewSharedSecret(sharedSecretConfig(), WithClock(func() time.Time { return exp.Add(time.Second) }))
	_, err := v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestNew(t *testing.T) {
	t.Run("rejects invalid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Mode = ModeSharedSecret
		_, err := New(cfg)
		assert.Error(t, err)
	})

	t.Run("records verification metrics", func(t *testing.T) {
		metrics := observability.NewMetrics(prometheus.NewRegistry())
		v, err := New(sharedSecretConfig(), WithMetrics(metrics))
		require.NoError(t, err)

		_, err = v.Verify(context.Background(), "bad")
		require.Error(t, err)
		token := signHS256(t, testSecret, userClaims("sub-1", "a@example.com", time.Now().Add(time.Hour)))
		_, err = v.Verify(context.Background(), token)
		require.NoError(t, err)

		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.VerificationsTotal.WithLabelValues("shared_secret", "malformed")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.VerificationsTotal.WithLabelValues("shared_secret", "ok")))
	})

	t.Run("ping is a no-op without a pinger", func(t *testing.T) {
		v, err := New(sharedSecretConfig())
		require.NoError(t, err)
		p, ok := v.(Pinger)
		require.True(t, ok)
		assert.NoError(t, p.Ping(context.Background()))
	})
}

func TestErrorKinds(t *testing.T) {
	err := newError(ProviderUnavailable, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrExpired)
	assert.Equal(t, "provider_unavailable", KindOf(err).String())
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "identity provider unavailable")
}

func TestUnverifiedClaims(t *testing.T) {
	token := signHS256(t, "whatever", userClaims("sub-9", "x@example.com", time.Now().Add(-time.Hour)))
	assert.True(t, LooksLikeProviderToken(token))

	local := signHS256(t, "whatever", jwt.MapClaims{"user_id": 7, "exp": time.Now().Add(time.Hour).Unix()})
	assert.False(t, LooksLikeProviderToken(local))

	assert.False(t, LooksLikeProviderToken("a.b.c"))
	assert.False(t, LooksLikeProviderToken(""))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "https://idp.example/"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://idp.example/auth/v1/jwks", cfg.keySetURL())

	cfg.JWKSURL = "https://keys.example/jwks.json"
	assert.Equal(t, "https://keys.example/jwks.json", cfg.keySetURL())

	cfg.Timeout = 0
	assert.Error(t, cfg.Validate())
}
