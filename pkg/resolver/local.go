package resolver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/cohort/pkg/accounts"
	"github.com/platinummonkey/cohort/pkg/observability"
)

// AccountLookup loads local accounts by id
type AccountLookup interface {
	GetByID(ctx context.Context, id int64) (*accounts.Account, error)
}

// LocalTokenStrategy authenticates the application's own HS256 tokens, which
// carry the local account id in a user_id claim. Only tokens with our
// signature and a user_id claim are claimed. The signature parser skips claim
// validation so foreign tokens can be told apart from expired ones.
type LocalTokenStrategy struct {
	secret    []byte
	accounts  AccountLookup
	signature *jwt.Parser
	parser    *jwt.Parser
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewLocalTokenStrategy creates the strategy. An empty secret returns nil,
// which NewChain skips.
func NewLocalTokenStrategy(secret string, leeway time.Duration, lookup AccountLookup, logger *observability.Logger, metrics *observability.Metrics) *LocalTokenStrategy {
	if secret == "" {
		return nil
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LocalTokenStrategy{
		secret:   []byte(secret),
		accounts: lookup,
		signature: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
		logger:  logger.WithComponent("local_token"),
		metrics: metrics,
	}
}

// Name identifies the strategy in metrics and logs
func (s *LocalTokenStrategy) Name() string {
	return "local_token"
}

// Resolve claims only tokens signed with the local secret
func (s *LocalTokenStrategy) Resolve(ctx context.Context, authHeader string) Outcome {
	return tracked(ctx, s.Name(), s.logger, s.metrics, func(ctx context.Context, span trace.Span) Outcome {
		return s.resolve(ctx, authHeader)
	})
}

func (s *LocalTokenStrategy) resolve(ctx context.Context, authHeader string) Outcome {
	token, ok := ExtractBearer(authHeader)
	if !ok {
		return anonymous()
	}

	keyFunc := func(*jwt.Token) (interface{}, error) { return s.secret, nil }
	unchecked := jwt.MapClaims{}
	if _, err := s.signature.ParseWithClaims(token, unchecked, keyFunc); err != nil {
		// Not ours
		return anonymous()
	}
	if _, ok := unchecked["user_id"]; !ok {
		// Signed with our key but not a local token, e.g. a provider token
		// when both share a secret.
		return anonymous()
	}

	// The token is ours from here on, so failures are rejections.
	claims := jwt.MapClaims{}
	if _, err := s.parser.ParseWithClaims(token, claims, keyFunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return rejected(ReasonTokenExpired)
		}
		return rejected(ReasonTokenInvalid)
	}

	id, err := accountID(claims["user_id"])
	if err != nil {
		return rejected(ReasonTokenInvalid)
	}

	account, err := s.accounts.GetByID(ctx, id)
	switch {
	case errors.Is(err, accounts.ErrNotFound):
		return rejected(ReasonTokenInvalid)
	case err != nil:
		observability.FromContext(ctx, s.logger).WithError(err).Error("local account lookup failed")
		return rejected(ReasonResolutionFailed)
	case !account.IsActive:
		return rejected(ReasonAccountDisabled)
	}

	return Outcome{State: Resolved, Account: account}
}

func accountID(v interface{}) (int64, error) {
	switch id := v.(type) {
	case float64:
		return int64(id), nil
	case string:
		return strconv.ParseInt(id, 10, 64)
	default:
		return 0, fmt.Errorf("user_id claim has type %T", v)
	}
}

// IssueLocalToken signs a local token for accountID valid for ttl
func IssueLocalToken(secret string, accountID int64, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id":    accountID,
		"token_type": "access",
		"iat":        now.Unix(),
		"exp":        now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
