package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/diagnosis/wanderlust/internal/identity"
	pkgmw "github.com/diagnosis/wanderlust/pkg/middleware"
)

type mockVerifier struct {
	user    *identity.User
	err     error
	current *identity.User
}

func (m mockVerifier) Verify(string) (*identity.User, error) { return m.user, m.err }
func (m mockVerifier) CurrentUser() *identity.User          { return m.current }

func TestOptionalSession(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		query    string
		verifier mockVerifier
		status   int
		wantUser string
	}{
		{"no token", "", "", mockVerifier{}, http.StatusOK, ""},
		{"valid header", "Bearer tok", "", mockVerifier{user: &identity.User{ID: "u1"}}, http.StatusOK, "u1"},
		{"valid query", "", "tok", mockVerifier{user: &identity.User{ID: "u2"}}, http.StatusOK, "u2"},
		{"stale token", "Bearer tok", "", mockVerifier{err: identity.ErrInvalidCredentials}, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			h := OptionalSession(tt.verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if u := User(r); u != nil {
					gotUser = u.ID
				}
			}))

			target := "/v1/holidays"
			if tt.query != "" {
				target += "?session_token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.status || gotUser != tt.wantUser {
				t.Fatalf("status=%d user=%q, want %d %q", w.Code, gotUser, tt.status, tt.wantUser)
			}
		})
	}
}

func TestRequireSession(t *testing.T) {
	alice := &identity.User{ID: "alice"}
	tests := []struct {
		name     string
		header   string
		verifier mockVerifier
		status   int
	}{
		{"nobody signed in", "", mockVerifier{}, http.StatusOK},
		{"no token while signed in", "", mockVerifier{current: alice}, http.StatusUnauthorized},
		{"token of the signed-in user", "Bearer tok", mockVerifier{user: alice, current: alice}, http.StatusOK},
		{"token of someone else", "Bearer tok", mockVerifier{user: &identity.User{ID: "bob"}, current: alice}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := false
			h := OptionalSession(tt.verifier)(RequireSession(tt.verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
			})))
			req := httptest.NewRequest(http.MethodDelete, "/v1/holidays/h1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tt.status || reached != (tt.status == http.StatusOK) {
				t.Fatalf("status=%d reached=%v, want %d", w.Code, reached, tt.status)
			}
		})
	}
}

func TestLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(3, time.Hour)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(ctx, "1.2.3.4"); !ok {
			t.Fatalf("attempt %d rejected", i+1)
		}
	}
	if ok, _ := l.Allow(ctx, "1.2.3.4"); ok {
		t.Fatal("fourth attempt allowed")
	}
	if ok, _ := l.Allow(ctx, "5.6.7.8"); !ok {
		t.Fatal("other client throttled")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestLocalLimiter_EvictsIdleKeys(t *testing.T) {
	l := NewLocalLimiter(1, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		l.Allow(ctx, key)
	}
	if l.Len() != 3 {
		t.Fatalf("tracking %d keys", l.Len())
	}

	now = now.Add(idleAfter)
	if ok, _ := l.Allow(ctx, "a"); !ok {
		t.Fatal("refilled key rejected")
	}
	if l.Len() != 1 {
		t.Fatalf("idle keys kept: %d", l.Len())
	}
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	// Rotating forwarding headers from one socket must not earn more attempts.
	h := RateLimit(NewLocalLimiter(3, time.Minute), ClientIP)(ok)
	allowed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/session/guest", nil)
		req.RemoteAddr = "203.0.113.9:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.%d.%d", i/256, i%256))
		req.Header.Set("X-Real-IP", fmt.Sprintf("10.1.0.%d", i))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code == http.StatusOK {
			allowed++
		}
	}
	if allowed != 3 {
		t.Fatalf("allowed %d of 50 attempts from one socket, want 3", allowed)
	}

	w := httptest.NewRecorder()
	RateLimit(failingLimiter{}, ClientIP)(ok).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("limiter failure should fail open, got %d", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	req.Header.Set("X-Real-IP", "198.51.100.7")
	if got := ClientIP(req); got != "192.0.2.1" {
		t.Fatalf("untrusted header used: %q", got)
	}

	// Behind a trusted proxy RealIP rewrites RemoteAddr before the limiter runs.
	var got string
	chimw.RealIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r)
	})).ServeHTTP(httptest.NewRecorder(), req)
	if got != "198.51.100.7" {
		t.Fatalf("behind proxy: %q", got)
	}
}

func TestIdempotencyReplaysCreate(t *testing.T) {
	calls := 0
	h := pkgmw.IdempotencyMiddleware(NewMemoryIdempotency())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"h1"}`))
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/holidays", strings.NewReader(`{}`))
		req.Header.Set("Idempotency-Key", "abc")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusCreated || strings.TrimSpace(w.Body.String()) != `{"id":"h1"}` {
			t.Fatalf("attempt %d: %d %s", i+1, w.Code, w.Body.String())
		}
	}
	if calls != 1 {
		t.Fatalf("handler ran %d times", calls)
	}
}

func TestMemoryIdempotency_Expires(t *testing.T) {
	s := NewMemoryIdempotency()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Set(ctx, "k", "v", time.Minute)
	if v, _ := s.Get(ctx, "k"); v != "v" {
		t.Fatalf("got %q", v)
	}
	now = now.Add(2 * time.Minute)
	if v, _ := s.Get(ctx, "k"); v != "" {
		t.Fatalf("expired entry returned %q", v)
	}
}
