package verifier

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testKey struct {
	kid string
	key *rsa.PrivateKey
}

func newTestKey(t *testing.T, kid string) testKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return testKey{kid: kid, key: key}
}

func (k testKey) jwk() map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": k.kid,
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(k.key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.key.E)).Bytes()),
	}
}

func (k testKey) sign(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = k.kid
	signed, err := token.SignedString(k.key)
	require.NoError(t, err)
	return signed
}

// keyServer serves a mutable key set and counts fetches
type keyServer struct {
	mu      sync.Mutex
	keys    []testKey
	status  int
	delay   time.Duration
	fetches atomic.Int32
	srv     *httptest.Server
}

func newKeyServer(t *testing.T, keys ...testKey) *keyServer {
	ks := &keyServer{keys: keys, status: http.StatusOK}
	ks.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ks.fetches.Add(1)
		ks.mu.Lock()
		status, delay := ks.status, ks.delay
		var set []map[string]string
		for _, k := range ks.keys {
			set = append(set, k.jwk())
		}
		ks.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if r.URL.Path != "/auth/v1/jwks" {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"keys": set})
	}))
	t.Cleanup(ks.srv.Close)
	return ks
}

func (ks *keyServer) setKeys(keys ...testKey) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.keys = keys
}

func keySetConfig(url string) Config {
	cfg := DefaultConfig()
	cfg.URL = url
	cfg.Leeway = 0
	cfg.Timeout = 2 * time.Second
	return cfg
}

func TestKeySetVerify(t *testing.T) {
	k1 := newTestKey(t, "k1")
	ks := newKeyServer(t, k1)
	v := NewKeySet(keySetConfig(ks.srv.URL))
	ctx := context.Background()

	claims, err := v.Verify(ctx, k1.sign(t, userClaims("sub-1", "ada@example.com", time.Now().Add(time.Hour))))
	require.NoError(t, err)
	assert.Equal(t, "sub-1", claims.SubjectID)

	// warm cache, no second fetch
	_, err = v.Verify(ctx, k1.sign(t, userClaims("sub-2", "bob@example.com", time.Now().Add(time.Hour))))
	require.NoError(t, err)
	assert.Equal(t, int32(1), ks.fetches.Load())

	_, err = v.Verify(ctx, k1.sign(t, userClaims("sub-1", "", time.Now().Add(-time.Minute))))
	assert.ErrorIs(t, err, ErrExpired)
}

func TestKeySetRejectsForeignKey(t *testing.T) {
	k1 := newTestKey(t, "k1")
	impostor := newTestKey(t, "k1")
	ks := newKeyServer(t, k1)
	v := NewKeySet(keySetConfig(ks.srv.URL))

	_, err := v.Verify(context.Background(), impostor.sign(t, userClaims("sub-1", "", time.Now().Add(time.Hour))))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestKeySetRejectsHMAC(t *testing.T) {
	ks := newKeyServer(t, newTestKey(t, "k1"))
	v := NewKeySet(keySetConfig(ks.srv.URL))

	token := signHS256(t, "secret", userClaims("sub-1", "", time.Now().Add(time.Hour)))
	_, err := v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestKeySetRotation(t *testing.T) {
	k1 := newTestKey(t, "k1")
	k2 := newTestKey(t, "k2")
	ks := newKeyServer(t, k1)

	cfg := keySetConfig(ks.srv.URL)
	cfg.KeySetMinRefresh = 0
	v := NewKeySet(cfg)
	ctx := context.Background()

	_, err := v.Verify(ctx, k1.sign(t, userClaims("sub-1", "", time.Now().Add(time.Hour))))
	require.NoError(t, err)

	ks.setKeys(k1, k2)
	_, err = v.Verify(ctx, k2.sign(t, userClaims("sub-1", "", time.Now().Add(time.Hour))))
	require.NoError(t, err)
	assert.Equal(t, int32(2), ks.fetches.Load())
}

func TestKeySetUnknownKidThrottled(t *testing.T) {
	k1 := newTestKey(t, "k1")
	stranger := newTestKey(t, "nope")
	ks := newKeyServer(t, k1)

	now := time.Now()
	clock := func() time.Time { return now }
	cfg := keySetConfig(ks.srv.URL)
	cfg.KeySetMinRefresh = 30 * time.Second
	v := NewKeySet(cfg, WithClock(clock))
	ctx := context.Background()

	_, err := v.Verify(ctx, k1.sign(t, userClaims("sub-1", "", now.Add(time.Hour))))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = v.Verify(ctx, stranger.sign(t, userClaims("sub-1", "", now.Add(time.Hour))))
		assert.ErrorIs(t, err, ErrInvalid)
	}
	assert.Equal(t, int32(1), ks.fetches.Load(), "unknown kids inside the refresh interval must not refetch")

	now = now.Add(31 * time.Second)
	_, err = v.Verify(ctx, stranger.sign(t, userClaims("sub-1", "", now.Add(time.Hour))))
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, int32(2), ks.fetches.Load())
}

func TestKeySetSingleFlight(t *testing.T) {
	k1 := newTestKey(t, "k1")
	ks := newKeyServer(t, k1)
	ks.delay = 100 * time.Millisecond
	v := NewKeySet(keySetConfig(ks.srv.URL))

	token := k1.sign(t, userClaims("sub-1", "", time.Now().Add(time.Hour)))

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Verify(context.Background(), token)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), ks.fetches.Load())
}

func TestKeySetProviderUnavailable(t *testing.T) {
	k1 := newTestKey(t, "k1")
	ks := newKeyServer(t, k1)
	ks.status = http.StatusBadGateway
	v := NewKeySet(keySetConfig(ks.srv.URL))

	_, err := v.Verify(context.Background(), k1.sign(t, userClaims("sub-1", "", time.Now().Add(time.Hour))))
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Error(t, v.Ping(context.Background()))
}

func TestKeySetTimeout(t *testing.T) {
	k1 := newTestKey(t, "k1")
	ks := newKeyServer(t, k1)
	ks.delay = 300 * time.Millisecond

	cfg := keySetConfig(ks.srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	v := NewKeySet(cfg)

	_, err := v.Verify(context.Background(), k1.sign(t, userClaims("sub-1", "", time.Now().Add(time.Hour))))
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestKeySetCallerCancellation(t *testing.T) {
	k1 := newTestKey(t, "k1")
	ks := newKeyServer(t, k1)
	ks.delay = 300 * time.Millisecond
	v := NewKeySet(keySetConfig(ks.srv.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := v.Verify(ctx, k1.sign(t, userClaims("sub-1", "", time.Now().Add(time.Hour))))
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeySetPing(t *testing.T) {
	ks := newKeyServer(t, newTestKey(t, "k1"))
	v := NewKeySet(keySetConfig(ks.srv.URL))

	require.NoError(t, v.Ping(context.Background()))
	require.NoError(t, v.Ping(context.Background()))
	assert.Equal(t, int32(1), ks.fetches.Load())
}

func TestKeySetBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"keys":[],"padding":"%s"}`, strings.Repeat("x", maxKeySetBody))
	}))
	t.Cleanup(srv.Close)
	v := NewKeySet(keySetConfig(srv.URL))

	err := v.Ping(context.Background())
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.ErrorContains(t, err, "failed to parse key set")
}
