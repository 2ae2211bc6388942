package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserEmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "svc", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer svc", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth/v1/admin/users/u-1":
			_, _ = w.Write([]byte(`{"id":"u-1","email":"owner@example.com"}`))
		case "/auth/v1/admin/users/u-2":
			_, _ = w.Write([]byte(`{"id":"u-2","email":""}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"msg":"User not found"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ServiceRoleKey: "svc"})
	got, err := c.UserEmail(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", got)

	_, err = c.UserEmail(context.Background(), "u-2")
	assert.ErrorIs(t, err, ErrUserNotFound)
	_, err = c.UserEmail(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserEmail_RetriesOnceOnServerError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"u-1","email":"owner@example.com"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ServiceRoleKey: "svc"})
	got, err := c.UserEmail(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", got)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestSessionUserID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "svc", r.Header.Get("apikey"))
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer user-jwt" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u-1","email":"owner@example.com"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, ServiceRoleKey: "svc"})
	id, err := c.SessionUserID(context.Background(), "user-jwt")
	require.NoError(t, err)
	assert.Equal(t, "u-1", id)

	_, err = c.SessionUserID(context.Background(), "forged")
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = c.SessionUserID(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidSession)
}
