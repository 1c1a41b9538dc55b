// Package provideradmin talks to the identity provider's admin user API with
// the service key. It is used by offline tooling only; the request path
// never holds the service key.
package provideradmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	defaultPerPage = 200
	maxBody        = 8 << 20
)

// User is a provider account as returned by the admin API
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Role             string     `json:"role"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// NewUser describes a provider account to create
type NewUser struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	EmailConfirm bool   `json:"email_confirm"`
}

// Client lists and creates provider users
type Client struct {
	baseURL    string
	serviceKey string
	http       *http.Client
	perPage    int
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying transport client
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithPageSize sets how many users are requested per page
func WithPageSize(n int) Option {
	return func(cl *Client) {
		if n > 0 {
			cl.perPage = n
		}
	}
}

// NewClient creates an admin client for the provider at baseURL
func NewClient(baseURL, serviceKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		http:       &http.Client{Timeout: 30 * time.Second},
		perPage:    defaultPerPage,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// authed returns a client that sends the service key as the bearer token
func (c *Client) authed(ctx context.Context) *http.Client {
	return oauth2.NewClient(
		context.WithValue(ctx, oauth2.HTTPClient, c.http),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.serviceKey, TokenType: "Bearer"}),
	)
}

type listResponse struct {
	Users []User `json:"users"`
}

// ListUsers pages through every provider user
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var all []User
	for page := 1; ; page++ {
		url := c.baseURL + "/auth/v1/admin/users?page=" + strconv.Itoa(page) + "&per_page=" + strconv.Itoa(c.perPage)
		var resp listResponse
		if err := c.do(ctx, http.MethodGet, url, nil, &resp); err != nil {
			return nil, fmt.Errorf("failed to list users (page %d): %w", page, err)
		}
		all = append(all, resp.Users...)
		if len(resp.Users) < c.perPage {
			return all, nil
		}
	}
}

// CreateUser creates a provider user and returns it
func (c *Client) CreateUser(ctx context.Context, u NewUser) (*User, error) {
	body, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to encode user: %w", err)
	}
	var created User
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/auth/v1/admin/users", body, &created); err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", u.Email, err)
	}
	if created.ID == "" {
		return nil, fmt.Errorf("failed to create user %s: provider returned no id", u.Email)
	}
	return &created, nil
}

// StatusError is a non-2xx answer from the admin API
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.authed(ctx).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
