// Package handlers exposes the holiday store and the signed-in session over HTTP
// and pushes every snapshot change to websocket clients.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/wanderlust/internal/domain"
	"github.com/diagnosis/wanderlust/internal/http/middleware"
	"github.com/diagnosis/wanderlust/internal/http/response"
	"github.com/diagnosis/wanderlust/internal/identity"
	"github.com/diagnosis/wanderlust/internal/permission"
	"github.com/diagnosis/wanderlust/internal/platform/mailer"
	"github.com/diagnosis/wanderlust/internal/session"
	"github.com/diagnosis/wanderlust/internal/store"
	pkgmw "github.com/diagnosis/wanderlust/pkg/middleware"
)

// Identity is the account side of the session.
type Identity interface {
	SignUp(ctx context.Context, email, password, name string) (*identity.User, error)
	SignIn(ctx context.Context, email, password string) (*identity.User, error)
	SignOut(ctx context.Context) error
	CurrentUser() *identity.User
	Verify(token string) (*identity.User, error)
}

type Deps struct {
	Store store.HolidayStore
	// Guests is nil when the backend cannot admit guests.
	Guests   store.GuestAccess
	Identity Identity
	Session  *session.Session
	Mailer   mailer.Service

	Mode         string
	PublicURL    string
	AllowOrigins []string

	GuestLimiter middleware.Limiter
	Idempotency  pkgmw.IdempotencyStore

	// Owner is who acts while nobody is signed in. Only the local backend sets it.
	Owner *domain.Principal
	// SingleUser grants whoever uses the device every permission, since the local
	// backend keeps no sharing rules.
	SingleUser bool
}

type Handlers struct {
	Deps
	hub *Hub

	unsubscribe []func()
}

// New subscribes the websocket hub to the store. Close detaches it.
func New(d Deps) *Handlers {
	h := &Handlers{Deps: d, hub: NewHub(d.AllowOrigins)}
	h.unsubscribe = append(h.unsubscribe, d.Store.Subscribe(func(hs []domain.Holiday) {
		p := h.Session.Principal()
		h.hub.Broadcast(h.sessionKey(p), h.holidaysMessage(p, hs))
	}))
	if d.Guests != nil {
		h.unsubscribe = append(h.unsubscribe, d.Guests.Alerts(func(msg string) {
			h.hub.Broadcast(h.sessionKey(h.Session.Principal()), alertMessage(msg))
		}))
	}
	return h
}

func (h *Handlers) Close() {
	for _, fn := range h.unsubscribe {
		fn()
	}
	h.hub.Stop()
}

func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.OptionalSession(h.Identity))

	// Credentials and access codes prove who the caller is on their own.
	r.Post("/session/signup", h.signUp)
	r.Post("/session/signin", h.signIn)
	if h.GuestLimiter != nil {
		r.With(middleware.RateLimit(h.GuestLimiter, middleware.ClientIP)).Post("/session/guest", h.guest)
	} else {
		r.Post("/session/guest", h.guest)
	}

	r.Group(func(r chi.Router) {
		if !h.SingleUser {
			r.Use(middleware.RequireSession(h.Identity))
		}

		r.Get("/session", h.currentSession)
		r.Post("/session/signout", h.signOut)
		r.Put("/session/active-holiday", h.selectHoliday)

		r.Route("/holidays", func(r chi.Router) {
			r.Get("/", h.list)
			if h.Idempotency != nil {
				r.With(pkgmw.IdempotencyMiddleware(h.Idempotency)).Post("/", h.create)
			} else {
				r.Post("/", h.create)
			}
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.get)
				r.Delete("/", h.delete)
				r.Put("/itinerary", h.updateItinerary)
				r.Put("/collaborators", h.share)
				r.Delete("/collaborators/{email}", h.removeCollaborator)
				r.Post("/access-code", h.generateAccessCode)
				r.Get("/access-code/qr.png", h.accessCodeQR)
				r.Get("/export.pdf", h.exportPDF)
				r.Get("/export.csv", h.exportCSV)
			})
		})

		r.Get("/ws", h.serveWS)
	})
	return r
}

// principalOf returns the session principal when u is the user it belongs to.
// A token for anyone else, or no token once somebody is signed in, yields nil.
func (h *Handlers) principalOf(u *identity.User) *domain.Principal {
	p := h.Session.Principal()
	if p == nil {
		if h.Owner != nil {
			owner := *h.Owner
			return &owner
		}
		return nil
	}
	if !h.SingleUser && (u == nil || u.ID != p.ID) {
		return nil
	}
	return p
}

func (h *Handlers) principal(r *http.Request) *domain.Principal {
	return h.principalOf(middleware.User(r))
}

// sessionKey names the session a websocket client is bound to. Local mode has a
// single device user, so every client shares one key.
func (h *Handlers) sessionKey(p *domain.Principal) string {
	if h.SingleUser || p == nil {
		return ""
	}
	return p.ID
}

func (h *Handlers) permission(p *domain.Principal, hol domain.Holiday) domain.Permission {
	if h.SingleUser {
		return domain.PermissionOwner
	}
	return permission.Resolve(p, hol)
}

// holidayFor loads the holiday named in the URL and checks the caller may act on
// it. When it reports false the error response has been written.
func (h *Handlers) holidayFor(w http.ResponseWriter, r *http.Request, allowed func(domain.Permission) bool) (domain.Holiday, domain.Permission, bool) {
	hol, ok := h.Store.Holiday(chi.URLParam(r, "id"))
	if !ok {
		response.NotFound(w, "holiday not found")
		return domain.Holiday{}, domain.PermissionNone, false
	}
	perm := h.permission(h.principal(r), hol)
	if !perm.CanView() {
		response.NotFound(w, "holiday not found")
		return domain.Holiday{}, perm, false
	}
	if !allowed(perm) {
		response.Forbidden(w, "you do not have permission to do that")
		return domain.Holiday{}, perm, false
	}
	return hol, perm, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return false
	}
	return true
}
