package verifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const maxIntrospectionBody = 1 << 20

// IntrospectionVerifier asks the provider whether a token is valid by fetching
// the user it belongs to.
type IntrospectionVerifier struct {
	endpoint string
	apiKey   string
	client   *http.Client
	timeout  time.Duration
}

// NewIntrospection creates a remote-introspection verifier
func NewIntrospection(cfg Config, opts ...Option) *IntrospectionVerifier {
	o := buildOptions(opts)
	return &IntrospectionVerifier{
		endpoint: cfg.baseURL() + "/auth/v1/user",
		apiKey:   cfg.APIKey,
		client:   o.httpClient,
		timeout:  cfg.Timeout,
	}
}

type providerUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type providerError struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

func (e providerError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Verify fetches the token's user from the provider
func (v *IntrospectionVerifier) Verify(ctx context.Context, rawToken string) (*ExternalClaims, error) {
	if err := checkShape(rawToken); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	client := oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, v.client),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: rawToken, TokenType: "Bearer"}),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return nil, newError(ProviderUnavailable, fmt.Errorf("failed to build introspection request: %w", err))
	}
	req.Header.Set("apikey", v.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, newError(ProviderUnavailable, fmt.Errorf("introspection request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIntrospectionBody))
	if err != nil {
		return nil, newError(ProviderUnavailable, fmt.Errorf("failed to read introspection response: %w", err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return v.claimsFrom(rawToken, body)
	case resp.StatusCode >= 500:
		return nil, newError(ProviderUnavailable, fmt.Errorf("provider returned %d", resp.StatusCode))
	}

	var perr providerError
	_ = json.Unmarshal(body, &perr)
	text := perr.text()
	if text == "" {
		text = strings.TrimSpace(string(body))
	}

	// error fields are part of the body, so one match covers both
	if strings.Contains(strings.ToLower(string(body)), "expired") {
		return nil, newError(Expired, fmt.Errorf("provider returned %d: %s", resp.StatusCode, text))
	}
	return nil, newError(InvalidSignatureOrClaims, fmt.Errorf("provider returned %d: %s", resp.StatusCode, text))
}

func (v *IntrospectionVerifier) claimsFrom(rawToken string, body []byte) (*ExternalClaims, error) {
	var user providerUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, newError(ProviderUnavailable, fmt.Errorf("failed to decode provider user: %w", err))
	}
	if user.ID == "" {
		return nil, newError(InvalidSignatureOrClaims, errors.New("provider returned no user"))
	}

	claims := &ExternalClaims{
		SubjectID: user.ID,
		Email:     user.Email,
		Role:      user.Role,
	}

	// exp is informational here; the provider already judged validity
	if unverified, err := UnverifiedClaims(rawToken); err == nil {
		if exp, err := unverified.GetExpirationTime(); err == nil && exp != nil {
			claims.ExpiresAt = exp.Time
		}
	}

	return claims, nil
}
