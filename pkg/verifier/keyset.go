package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/cohort/pkg/observability"
)

const (
	keySetCacheKey = "jwks"
	maxKeySetBody  = 1 << 20
)

// KeySetVerifier checks asymmetric tokens against the provider's published
// key set. The parsed set lives in a single-entry TTL cache.
type KeySetVerifier struct {
	url        string
	client     *http.Client
	timeout    time.Duration
	minRefresh time.Duration
	parser     *jwt.Parser
	metrics    *observability.Metrics
	logger     *observability.Logger
	now        func() time.Time

	cache *expirable.LRU[string, *keyfunc.JWKS]
	group singleflight.Group

	mu          sync.Mutex
	lastRefresh time.Time
}

// NewKeySet creates a key-set verifier. Nothing is fetched until the first
// verification or ping.
func NewKeySet(cfg Config, opts ...Option) *KeySetVerifier {
	o := buildOptions(opts)
	return &KeySetVerifier{
		url:        cfg.keySetURL(),
		client:     o.httpClient,
		timeout:    cfg.Timeout,
		minRefresh: cfg.KeySetMinRefresh,
		parser:     newParser(cfg, cfg.Algorithms, o.now),
		metrics:    o.metrics,
		logger:     o.logger.WithComponent("keyset"),
		now:        o.now,
		cache:      expirable.NewLRU[string, *keyfunc.JWKS](1, nil, cfg.KeySetTTL),
	}
}

// Verify validates the token signature with the cached key set. An unknown kid
// drops the cached set and refetches once.
func (v *KeySetVerifier) Verify(ctx context.Context, rawToken string) (*ExternalClaims, error) {
	if err := checkShape(rawToken); err != nil {
		return nil, err
	}

	var fetchErr error
	lookup := func(token *jwt.Token) (interface{}, error) {
		jwks, err := v.keySet(ctx)
		if err != nil {
			fetchErr = err
			return nil, err
		}

		key, err := jwks.Keyfunc(token)
		if errors.Is(err, keyfunc.ErrKIDNotFound) && v.invalidate() {
			v.logger.WithField("kid", token.Header["kid"]).Info("unknown key id, refreshing key set")
			jwks, err = v.keySet(ctx)
			if err != nil {
				fetchErr = err
				return nil, err
			}
			return jwks.Keyfunc(token)
		}
		return key, err
	}

	claims := &providerClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, lookup)
	if fetchErr != nil {
		return nil, newError(ProviderUnavailable, fetchErr)
	}
	if err != nil {
		return nil, classify(err)
	}

	return claims.external()
}

// Ping loads the key set, using the cache when warm
func (v *KeySetVerifier) Ping(ctx context.Context) error {
	_, err := v.keySet(ctx)
	return err
}

// invalidate drops the cached set unless a refresh happened within the
// minimum interval. It reports whether the caller may refetch.
func (v *KeySetVerifier) invalidate() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	if !v.lastRefresh.IsZero() && now.Sub(v.lastRefresh) < v.minRefresh {
		return false
	}
	v.lastRefresh = now
	v.cache.Remove(keySetCacheKey)
	return true
}

func (v *KeySetVerifier) keySet(ctx context.Context) (*keyfunc.JWKS, error) {
	if jwks, ok := v.cache.Get(keySetCacheKey); ok {
		return jwks, nil
	}

	ch := v.group.DoChan(keySetCacheKey, func() (interface{}, error) {
		if jwks, ok := v.cache.Get(keySetCacheKey); ok {
			return jwks, nil
		}
		// The fetch is shared by every waiter, so one caller's cancellation
		// must not fail the others.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
		defer cancel()

		jwks, err := v.fetch(fetchCtx)
		if err != nil {
			v.metrics.RecordKeySetFetch("error")
			v.logger.WithError(err).WithField("url", v.url).Warn("key set fetch failed")
			return nil, err
		}
		v.metrics.RecordKeySetFetch("ok")

		v.mu.Lock()
		v.lastRefresh = v.now()
		v.mu.Unlock()

		v.cache.Add(keySetCacheKey, jwks)
		return jwks, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*keyfunc.JWKS), nil
	}
}

func (v *KeySetVerifier) fetch(ctx context.Context) (*keyfunc.JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build key set request: %w", ErrProviderUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch key set: %w", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: key set endpoint returned %d", ErrProviderUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBody))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read key set: %w", ErrProviderUnavailable, err)
	}

	jwks, err := keyfunc.NewJSON(json.RawMessage(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse key set: %w", ErrProviderUnavailable, err)
	}
	return jwks, nil
}
