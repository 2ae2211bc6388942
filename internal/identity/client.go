// Package identity looks up users in the identity provider's admin API
// (Supabase Auth).
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	ErrUserNotFound = errors.New("identity: user not found")
	// ErrInvalidSession means the provider rejected a user access token.
	ErrInvalidSession = errors.New("identity: invalid session")
)

type Config struct {
	BaseURL        string
	ServiceRoleKey string
	Timeout        time.Duration
}

// Client performs read-only admin lookups, retried once on transport or
// 5xx errors.
type Client struct {
	http *resty.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	h := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.ServiceRoleKey).
		SetHeader("apikey", cfg.ServiceRoleKey).
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})
	return &Client{http: h}
}

type user struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// UserEmail returns the email address of userID.
func (c *Client) UserEmail(ctx context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", ErrUserNotFound
	}
	var out user
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", userID).
		SetResult(&out).
		Get("/auth/v1/admin/users/{id}")
	if err != nil {
		return "", fmt.Errorf("identity: user request: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", ErrUserNotFound
	}
	if resp.IsError() {
		return "", fmt.Errorf("identity: provider returned %d", resp.StatusCode())
	}
	if strings.TrimSpace(out.Email) == "" {
		return "", fmt.Errorf("%w: user %s has no email", ErrUserNotFound, userID)
	}
	return strings.TrimSpace(out.Email), nil
}

// SessionUserID resolves a user access token issued by the identity
// provider to its user id.
func (c *Client) SessionUserID(ctx context.Context, accessToken string) (string, error) {
	if strings.TrimSpace(accessToken) == "" {
		return "", ErrInvalidSession
	}
	var out user
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&out).
		Get("/auth/v1/user")
	if err != nil {
		return "", fmt.Errorf("identity: session request: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
		return "", ErrInvalidSession
	}
	if resp.IsError() {
		return "", fmt.Errorf("identity: provider returned %d", resp.StatusCode())
	}
	if out.ID == "" {
		return "", ErrInvalidSession
	}
	return out.ID, nil
}
