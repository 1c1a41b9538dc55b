package verifier

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// SharedSecretVerifier checks HS256 tokens signed with the provider's project secret
type SharedSecretVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewSharedSecret creates a shared-secret verifier
func NewSharedSecret(cfg Config, opts ...Option) *SharedSecretVerifier {
	o := buildOptions(opts)
	return &SharedSecretVerifier{
		secret: []byte(cfg.JWTSecret),
		parser: newParser(cfg, []string{jwt.SigningMethodHS256.Alg()}, o.now),
	}
}

// Verify validates signature, audience and expiry locally
func (v *SharedSecretVerifier) Verify(ctx context.Context, rawToken string) (*ExternalClaims, error) {
	if err := checkShape(rawToken); err != nil {
		return nil, err
	}

	claims := &providerClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	return claims.external()
}
