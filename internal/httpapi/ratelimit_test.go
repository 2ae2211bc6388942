package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"voicedesk/internal/auth"

	"github.com/gin-gonic/gin"
)

func limitedEngine(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if tid := c.GetHeader("X-Test-Tenant"); tid != "" {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "u", tid, "owner"))
		}
		c.Next()
	}, rl.Handler())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func hit(r *gin.Engine, tenant string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	if tenant != "" {
		req.Header.Set("X-Test-Tenant", tenant)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter_PerTenantBuckets(t *testing.T) {
	r := limitedEngine(NewRateLimiter(0.001, 2))

	for i := 0; i < 2; i++ {
		if w := hit(r, "t1"); w.Code != http.StatusNoContent {
			t.Fatalf("request %d: expected 204, got %d", i, w.Code)
		}
	}
	w := hit(r, "t1")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After header")
	}
	if w := hit(r, "t2"); w.Code != http.StatusNoContent {
		t.Fatalf("other tenant should have its own bucket, got %d", w.Code)
	}
}

func TestRateLimiter_FallsBackToIP(t *testing.T) {
	r := limitedEngine(NewRateLimiter(0.001, 0))

	if w := hit(r, ""); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := hit(r, ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("burst<=0 is coerced to 1; expected 429, got %d", w.Code)
	}
}

func TestLimiterReuse(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	if rl.limiter("k") != rl.limiter("k") {
		t.Fatalf("expected the same limiter for a key")
	}
}
