// Package scheduling is a client for a Cal.com-style scheduling API (v2).
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cast"
)

var (
	// ErrSlotUnavailable means the provider refused the time because it is taken.
	ErrSlotUnavailable = errors.New("scheduling: slot unavailable")
	ErrUnauthorized    = errors.New("scheduling: unauthorized")
)

const (
	slotsAPIVersion    = "2024-09-04"
	bookingsAPIVersion = "2024-08-13"
)

// HTTPError is a non-2xx provider response.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("scheduling: provider returned %d: %s", e.Status, e.Message)
}

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

// Client talks to the provider. Reads are retried once; writes never are.
type Client struct {
	reads        *resty.Client
	writes       *resty.Client
	clientID     string
	clientSecret string
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	reads := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})
	writes := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout)

	return &Client{reads: reads, writes: writes, clientID: cfg.ClientID, clientSecret: cfg.ClientSecret}
}

type envelope[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
}

type errorEnvelope struct {
	Status string `json:"status"`
	Error  struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

type slot struct {
	Start string `json:"start"`
}

// Slots returns open start times for eventTypeID in [from, to), sorted.
func (c *Client) Slots(ctx context.Context, token, eventTypeID string, from, to time.Time, timezone string) ([]time.Time, error) {
	var out envelope[map[string][]slot]
	var apiErr errorEnvelope
	resp, err := c.reads.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("cal-api-version", slotsAPIVersion).
		SetQueryParams(map[string]string{
			"eventTypeId": eventTypeID,
			"start":       from.UTC().Format(time.RFC3339),
			"end":         to.UTC().Format(time.RFC3339),
			"timeZone":    timezone,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v2/slots")
	if err != nil {
		return nil, fmt.Errorf("scheduling: slots request: %w", err)
	}
	if resp.IsError() {
		return nil, classify(resp.StatusCode(), apiErr)
	}

	var slots []time.Time
	for _, day := range out.Data {
		for _, s := range day {
			t, err := time.Parse(time.RFC3339, s.Start)
			if err != nil {
				continue
			}
			if !t.Before(from) && t.Before(to) {
				slots = append(slots, t.UTC())
			}
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots, nil
}

type Attendee struct {
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	TimeZone    string `json:"timeZone"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

type CreateBookingRequest struct {
	EventTypeID string
	Start       time.Time
	Attendee    Attendee
	Notes       string
	Metadata    map[string]string
}

// Booking is the provider's view of a created booking.
type Booking struct {
	ID              string
	UID             string
	Start           time.Time
	DurationMinutes int
	Status          string
}

type bookingBody struct {
	ID       any    `json:"id"`
	UID      string `json:"uid"`
	Start    string `json:"start"`
	Duration any    `json:"duration"`
	Status   string `json:"status"`
}

func (c *Client) CreateBooking(ctx context.Context, token string, req CreateBookingRequest) (Booking, error) {
	eventTypeID, err := cast.ToIntE(req.EventTypeID)
	if err != nil {
		return Booking{}, fmt.Errorf("scheduling: event type id %q is not numeric", req.EventTypeID)
	}
	body := map[string]any{
		"start":       req.Start.UTC().Format(time.RFC3339),
		"eventTypeId": eventTypeID,
		"attendee":    req.Attendee,
	}
	if req.Notes != "" {
		body["bookingFieldsResponses"] = map[string]string{"notes": req.Notes}
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var out envelope[bookingBody]
	var apiErr errorEnvelope
	resp, err := c.writes.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("cal-api-version", bookingsAPIVersion).
		SetBody(body).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v2/bookings")
	if err != nil {
		return Booking{}, fmt.Errorf("scheduling: create booking request: %w", err)
	}
	if resp.IsError() {
		return Booking{}, classify(resp.StatusCode(), apiErr)
	}

	b := Booking{
		ID:              cast.ToString(out.Data.ID),
		UID:             out.Data.UID,
		Start:           req.Start.UTC(),
		DurationMinutes: cast.ToInt(out.Data.Duration),
		Status:          out.Data.Status,
	}
	if t, err := time.Parse(time.RFC3339, out.Data.Start); err == nil {
		b.Start = t.UTC()
	}
	return b, nil
}

func (c *Client) CancelBooking(ctx context.Context, token, uid, reason string) error {
	var apiErr errorEnvelope
	resp, err := c.writes.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("cal-api-version", bookingsAPIVersion).
		SetPathParam("uid", uid).
		SetBody(map[string]string{"cancellationReason": reason}).
		SetError(&apiErr).
		Post("/v2/bookings/{uid}/cancel")
	if err != nil {
		return fmt.Errorf("scheduling: cancel booking request: %w", err)
	}
	if resp.IsError() {
		return classify(resp.StatusCode(), apiErr)
	}
	return nil
}

// Token is a refreshed OAuth grant.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (Token, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return Token{}, fmt.Errorf("%w: oauth client is not configured", ErrUnauthorized)
	}
	var out envelope[struct {
		AccessToken          string `json:"accessToken"`
		RefreshToken         string `json:"refreshToken"`
		AccessTokenExpiresAt any    `json:"accessTokenExpiresAt"`
	}]
	var apiErr errorEnvelope
	resp, err := c.writes.R().
		SetContext(ctx).
		SetHeader("x-cal-secret-key", c.clientSecret).
		SetPathParam("clientId", c.clientID).
		SetBody(map[string]string{"refreshToken": refreshToken}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v2/oauth/{clientId}/refresh")
	if err != nil {
		return Token{}, fmt.Errorf("scheduling: refresh request: %w", err)
	}
	if resp.IsError() {
		return Token{}, classify(resp.StatusCode(), apiErr)
	}
	if out.Data.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: refresh returned no access token", ErrUnauthorized)
	}

	tok := Token{AccessToken: out.Data.AccessToken, RefreshToken: out.Data.RefreshToken}
	if ms := cast.ToInt64(out.Data.AccessTokenExpiresAt); ms > 0 {
		tok.ExpiresAt = time.UnixMilli(ms).UTC()
	}
	return tok, nil
}

func classify(status int, e errorEnvelope) error {
	msg := e.Error.Message
	if msg == "" {
		msg = e.Message
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case status == http.StatusConflict || isSlotTaken(msg):
		return fmt.Errorf("%w: %s", ErrSlotUnavailable, msg)
	default:
		return &HTTPError{Status: status, Message: msg}
	}
}

func isSlotTaken(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "not available") ||
		strings.Contains(m, "already has booking") ||
		strings.Contains(m, "no available users")
}
