package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/diagnosis/wanderlust/internal/http/response"
	"github.com/diagnosis/wanderlust/internal/identity"
	"github.com/diagnosis/wanderlust/pkg/logger"
)

type ctxKey string

const CtxUser ctxKey = "user"

// Verifier resolves a bearer token to the user it was issued for.
type Verifier interface {
	Verify(token string) (*identity.User, error)
}

// SessionVerifier also reports who is signed in to the process.
type SessionVerifier interface {
	Verifier
	CurrentUser() *identity.User
}

// OptionalSession verifies a session token when one is presented and rejects the
// request if it no longer matches the signed-in user. Requests without a token pass
// through; the store itself refuses work that needs a session. Browsers cannot set
// headers on a websocket upgrade, so ?session_token= is accepted too.
func OptionalSession(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := bearer(r)
			if tok == "" {
				next.ServeHTTP(w, r)
				return
			}
			u, err := v.Verify(tok)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid or expired session", response.CodeInvalidToken)
				return
			}
			ctx := context.WithValue(r.Context(), CtxUser, u)
			ctx = logger.WithPrincipal(ctx, u.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession admits a request only if it carries the signed-in user's token.
// While nobody is signed in tokenless requests go through, and the store refuses
// whatever needs a session. Mount it after OptionalSession.
func RequireSession(v SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u := User(r)
			cur := v.CurrentUser()
			switch {
			case u == nil && cur == nil:
			case u == nil:
				response.WriteError(w, http.StatusUnauthorized, "a session token is required", response.CodeUnauthorized)
				return
			case cur == nil || cur.ID != u.ID:
				response.WriteError(w, http.StatusUnauthorized, "invalid or expired session", response.CodeInvalidToken)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func User(r *http.Request) *identity.User {
	if u, ok := r.Context().Value(CtxUser).(*identity.User); ok {
		return u
	}
	return nil
}

func bearer(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return r.URL.Query().Get("session_token")
}
