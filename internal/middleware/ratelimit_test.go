package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/accountd/accountd/internal/ratelimit"
)

func newLimitedRouter(t *testing.T, class ratelimit.Class, handler gin.HandlerFunc) (*gin.Engine, *ratelimit.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := ratelimit.NewMemoryStore()
	t.Cleanup(store.Stop)

	router := gin.New()
	router.POST("/guarded", RateLimitMiddleware(store, class, nil), handler)
	return router, store
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func failHandler(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"success": false})
}

func doPost(router *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimit_AllowsWithinBudget(t *testing.T) {
	class := ratelimit.Class{Name: "general", Window: time.Minute, Max: 3}
	router, _ := newLimitedRouter(t, class, okHandler)

	for i := 0; i < 3; i++ {
		w := doPost(router)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}
}

func TestRateLimit_RejectsWhenExhausted(t *testing.T) {
	class := ratelimit.Class{Name: "general", Window: time.Minute, Max: 2}
	router, _ := newLimitedRouter(t, class, okHandler)

	doPost(router)
	doPost(router)
	w := doPost(router)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header on 429")
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
}

func TestRateLimit_SetsHeadersOnAllowedRequests(t *testing.T) {
	class := ratelimit.Class{Name: "general", Window: time.Minute, Max: 5}
	router, _ := newLimitedRouter(t, class, okHandler)

	w := doPost(router)
	if got := w.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("X-RateLimit-Limit = %q, want 5", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %q, want 4", got)
	}
	resetStr := w.Header().Get("X-RateLimit-Reset")
	reset, err := strconv.ParseInt(resetStr, 10, 64)
	if err != nil {
		t.Fatalf("X-RateLimit-Reset = %q, not a unix timestamp", resetStr)
	}
	if time.Unix(reset, 0).Before(time.Now()) {
		t.Errorf("reset %v is in the past", time.Unix(reset, 0))
	}
}

func TestRateLimit_SkipSuccessfulOnlyChargesFailures(t *testing.T) {
	class := ratelimit.Class{Name: "login", Window: time.Minute, Max: 2, SkipSuccessful: true}

	gin.SetMode(gin.TestMode)
	store := ratelimit.NewMemoryStore()
	t.Cleanup(store.Stop)

	router := gin.New()
	shouldFail := true
	router.POST("/guarded", RateLimitMiddleware(store, class, nil), func(c *gin.Context) {
		if shouldFail {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	// Two failures exhaust the budget
	doPost(router)
	doPost(router)

	// Third attempt blocked even though the credentials would now succeed
	shouldFail = false
	w := doPost(router)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after budget exhausted by failures", w.Code)
	}
}

func TestRateLimit_SkipSuccessfulDoesNotChargeSuccesses(t *testing.T) {
	class := ratelimit.Class{Name: "auth", Window: time.Minute, Max: 2, SkipSuccessful: true}
	router, _ := newLimitedRouter(t, class, okHandler)

	// Far more successful requests than the budget; none consume it
	for i := 0; i < 10; i++ {
		w := doPost(router)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, w.Code)
		}
	}
}

func TestRateLimit_KeysPerUserWhenAuthenticated(t *testing.T) {
	class := ratelimit.Class{Name: "api", Window: time.Minute, Max: 1}

	gin.SetMode(gin.TestMode)
	store := ratelimit.NewMemoryStore()
	t.Cleanup(store.Stop)

	router := gin.New()
	router.POST("/guarded",
		func(c *gin.Context) {
			c.Set(CtxUserID, c.GetHeader("X-Test-User"))
		},
		RateLimitMiddleware(store, class, nil),
		okHandler,
	)

	post := func(user string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/guarded", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		req.Header.Set("X-Test-User", user)
		router.ServeHTTP(w, req)
		return w.Code
	}

	if got := post("alice"); got != http.StatusOK {
		t.Fatalf("alice first request: status = %d, want 200", got)
	}
	if got := post("alice"); got != http.StatusTooManyRequests {
		t.Fatalf("alice second request: status = %d, want 429", got)
	}
	// Different user from the same IP gets a fresh budget
	if got := post("bob"); got != http.StatusOK {
		t.Fatalf("bob first request: status = %d, want 200", got)
	}
}

func TestRateLimit_FailedChargeCountsTowardNextRequest(t *testing.T) {
	class := ratelimit.Class{Name: "login", Window: time.Minute, Max: 1, SkipSuccessful: true}
	router, store := newLimitedRouter(t, class, failHandler)

	doPost(router)

	count, _, err := store.Peek(context.Background(), "login:ip:192.0.2.1", time.Minute)
	if err != nil {
		t.Fatalf("Peek() error: %v", err)
	}
	if count != 1 {
		t.Errorf("post-failure count = %d, want 1", count)
	}
}
