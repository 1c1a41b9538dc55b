package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cohort/pkg/accounts"
	"github.com/platinummonkey/cohort/pkg/verifier"
)

const localSecret = "local-django-style-secret"

type mapLookup map[int64]*accounts.Account

func (m mapLookup) GetByID(ctx context.Context, id int64) (*accounts.Account, error) {
	if id == 500 {
		return nil, errors.New("db timeout")
	}
	a, ok := m[id]
	if !ok {
		return nil, accounts.ErrNotFound
	}
	return a, nil
}

func newLocal() *LocalTokenStrategy {
	return NewLocalTokenStrategy(localSecret, 0, mapLookup{
		1: {ID: 1, Username: "active", IsActive: true},
		2: {ID: 2, Username: "disabled", IsActive: false},
	}, nil, nil)
}

func TestNewLocalTokenStrategyDisabled(t *testing.T) {
	assert.Nil(t, NewLocalTokenStrategy("", 0, mapLookup{}, nil, nil))
}

func TestLocalTokenStrategy(t *testing.T) {
	s := newLocal()
	ctx := context.Background()

	valid, err := IssueLocalToken(localSecret, 1, time.Hour)
	require.NoError(t, err)
	out := s.Resolve(ctx, "Bearer "+valid)
	require.Equal(t, Resolved, out.State)
	assert.Equal(t, int64(1), out.Account.ID)
	assert.Equal(t, "local_token", out.Strategy)

	disabled, err := IssueLocalToken(localSecret, 2, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReasonAccountDisabled, s.Resolve(ctx, "Bearer "+disabled).Reason)

	missing, err := IssueLocalToken(localSecret, 3, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReasonTokenInvalid, s.Resolve(ctx, "Bearer "+missing).Reason)

	broken, err := IssueLocalToken(localSecret, 500, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, ReasonResolutionFailed, s.Resolve(ctx, "Bearer "+broken).Reason)

	expired, err := IssueLocalToken(localSecret, 1, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReasonTokenExpired, s.Resolve(ctx, "Bearer "+expired).Reason)

	foreign, err := IssueLocalToken("someone-else", 1, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, Anonymous, s.Resolve(ctx, "Bearer "+foreign).State)

	assert.Equal(t, Anonymous, s.Resolve(ctx, "Bearer not-a-jwt").State)
	assert.Equal(t, Anonymous, s.Resolve(ctx, "").State)
}

func TestLocalTokenStringUserID(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "1",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(localSecret))
	require.NoError(t, err)

	assert.Equal(t, Resolved, newLocal().Resolve(context.Background(), "Bearer "+token).State)
}

func TestLocalTokenWithoutUserIDIsNotClaimed(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(localSecret))
	require.NoError(t, err)

	assert.Equal(t, Anonymous, newLocal().Resolve(context.Background(), "Bearer "+token).State)
}

func TestLocalTokenMalformedUserID(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": true,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(localSecret))
	require.NoError(t, err)

	assert.Equal(t, ReasonTokenInvalid, newLocal().Resolve(context.Background(), "Bearer "+token).Reason)
}

func TestChainProviderThenLocal(t *testing.T) {
	// the provider rejects everything it sees as invalid
	provider := NewProviderResolver(&stubVerifier{err: &verifier.Error{Kind: verifier.InvalidSignatureOrClaims}},
		&stubProvisioner{}, nil, Options{})
	chain := NewChain(provider, newLocal())
	ctx := context.Background()

	local, err := IssueLocalToken(localSecret, 1, time.Hour)
	require.NoError(t, err)
	out := chain.Resolve(ctx, "Bearer "+local)
	require.Equal(t, Resolved, out.State, "a local token without sub falls through to the local strategy")
	assert.Equal(t, "local_token", out.Strategy)

	providerShaped := providerToken(t, "sub-1", "", time.Now().Add(time.Hour))
	out = chain.Resolve(ctx, "Bearer "+providerShaped)
	assert.Equal(t, Rejected, out.State)
	assert.Equal(t, "provider", out.Strategy, "provider-shaped tokens are never handed to later strategies")
}

func TestChainSkipsDisabledLocalStrategy(t *testing.T) {
	provider := NewProviderResolver(&stubVerifier{err: &verifier.Error{Kind: verifier.Malformed}},
		&stubProvisioner{}, nil, Options{})
	chain := NewChain(provider, NewLocalTokenStrategy("", 0, mapLookup{}, nil, nil))

	assert.Equal(t, "provider", chain.Name())
	out := chain.Resolve(context.Background(), "Bearer opaque")
	assert.Equal(t, Rejected, out.State)
	assert.Equal(t, ReasonTokenInvalid, out.Reason)
}

func TestChainRejectsUnclaimedTokens(t *testing.T) {
	cfg := verifier.DefaultConfig()
	cfg.Mode = verifier.ModeSharedSecret
	cfg.JWTSecret = providerSecret
	v, err := verifier.New(cfg)
	require.NoError(t, err)
	provider := NewProviderResolver(v, &stubProvisioner{result: activeResult()}, nil, Options{})

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("wrong-key"))
	require.NoError(t, err)

	chains := map[string]*Chain{
		"provider first": NewChain(provider, newLocal()),
		"local first":    NewChain(newLocal(), provider),
	}
	for name, chain := range chains {
		for _, token := range []string{"not-a-jwt", "a.b.c", forged} {
			out := chain.Resolve(context.Background(), "Bearer "+token)
			assert.Equal(t, Rejected, out.State, "%s: %s", name, token)
			assert.Equal(t, ReasonTokenInvalid, out.Reason, "%s: %s", name, token)
			assert.Nil(t, out.Account)
		}
		assert.Equal(t, Anonymous, chain.Resolve(context.Background(), "").State, name)
		assert.Equal(t, Anonymous, chain.Resolve(context.Background(), "Basic dXNlcjpwYXNz").State, name)
	}
}

func TestChainsAgreeWhenSecretsMatch(t *testing.T) {
	cfg := verifier.DefaultConfig()
	cfg.Mode = verifier.ModeSharedSecret
	cfg.JWTSecret = localSecret
	v, err := verifier.New(cfg)
	require.NoError(t, err)
	provider := NewProviderResolver(v, &stubProvisioner{result: activeResult()}, nil, Options{})
	local := newLocal()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "shared-sub",
		"email": "ada@example.com",
		"aud":   "authenticated",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(localSecret))
	require.NoError(t, err)

	httpOut := NewChain(local, provider).Resolve(context.Background(), "Bearer "+token)
	wsOut := NewChain(local, provider.Strict()).Resolve(context.Background(), "Bearer "+token)

	require.Equal(t, Resolved, httpOut.State)
	require.Equal(t, Resolved, wsOut.State)
	assert.Equal(t, "provider", httpOut.Strategy)
	assert.Equal(t, "provider_strict", wsOut.Strategy)
	assert.Equal(t, httpOut.Account.ID, wsOut.Account.ID)
}
