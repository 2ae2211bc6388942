// Package email sends transactional mail through a Resend-style HTTP API.
package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrInvalidMessage = errors.New("email: invalid message")

type Config struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
	// IdempotencyKey lets the provider drop a repeated send.
	IdempotencyKey string
	Tags           map[string]string
}

// Client is write-only, so requests are never retried.
type Client struct {
	http *resty.Client
	from string
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.resend.com"
	}
	h := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.APIKey)
	return &Client{http: h, from: cfg.From}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
	Tags    []tag    `json:"tags,omitempty"`
}

type tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Send delivers m and returns the provider message id.
func (c *Client) Send(ctx context.Context, m Message) (string, error) {
	if len(m.To) == 0 || strings.TrimSpace(m.Subject) == "" || (m.HTML == "" && m.Text == "") {
		return "", ErrInvalidMessage
	}
	body := sendRequest{From: c.from, To: m.To, Subject: m.Subject, HTML: m.HTML, Text: m.Text}
	for k, v := range m.Tags {
		body.Tags = append(body.Tags, tag{Name: k, Value: v})
	}

	var out sendResponse
	var apiErr apiError
	req := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr)
	if m.IdempotencyKey != "" {
		req.SetHeader("Idempotency-Key", m.IdempotencyKey)
	}
	resp, err := req.Post("/emails")
	if err != nil {
		return "", fmt.Errorf("email: send request: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = resp.Status()
		}
		return "", fmt.Errorf("email: provider returned %d: %s", resp.StatusCode(), msg)
	}
	return out.ID, nil
}
