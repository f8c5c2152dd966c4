package handlers

import (
	"errors"
	"net/http"

	"github.com/diagnosis/wanderlust/internal/domain"
	"github.com/diagnosis/wanderlust/internal/http/middleware"
	"github.com/diagnosis/wanderlust/internal/http/response"
	"github.com/diagnosis/wanderlust/internal/identity"
	"github.com/diagnosis/wanderlust/pkg/logger"
)

type sessionOut struct {
	User          *identity.User    `json:"user"`
	Principal     *domain.Principal `json:"principal"`
	Token         string            `json:"token,omitempty"`
	ActiveHoliday string            `json:"activeHoliday,omitempty"`
	Mode          string            `json:"mode"`
}

func (h *Handlers) sessionView(u *identity.User, withToken bool) sessionOut {
	out := sessionOut{
		User:          u,
		Principal:     h.principalOf(u),
		ActiveHoliday: h.Session.ActiveHoliday(),
		Mode:          h.Mode,
	}
	if withToken && u != nil {
		out.Token = u.Token
	}
	return out
}

func (h *Handlers) currentSession(w http.ResponseWriter, r *http.Request) {
	u := middleware.User(r)
	if u == nil && h.SingleUser {
		u = h.Identity.CurrentUser()
	}
	response.JSON(w, http.StatusOK, h.sessionView(u, false))
}

// selectHoliday makes a holiday the active one. Reading a holiday never does.
func (h *Handlers) selectHoliday(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ID string `json:"id"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.ID == "" {
		h.Session.SetActiveHoliday("")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	hol, ok := h.Store.Holiday(in.ID)
	if !ok || !h.permission(h.principal(r), hol).CanView() {
		response.NotFound(w, "holiday not found")
		return
	}
	h.Session.SetActiveHoliday(hol.ID)
	w.WriteHeader(http.StatusNoContent)
}

type credentialsIn struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (h *Handlers) signUp(w http.ResponseWriter, r *http.Request) {
	var in credentialsIn
	if !decode(w, r, &in) {
		return
	}
	u, err := h.Identity.SignUp(r.Context(), in.Email, in.Password, in.Name)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, h.sessionView(u, true))
}

func (h *Handlers) signIn(w http.ResponseWriter, r *http.Request) {
	var in credentialsIn
	if !decode(w, r, &in) {
		return
	}
	if in.Email == "" || in.Password == "" {
		response.BadRequest(w, "email and password are required")
		return
	}
	u, err := h.Identity.SignIn(r.Context(), in.Email, in.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			response.Unauthorized(w, "invalid email or password")
			return
		}
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, h.sessionView(u, true))
}

func (h *Handlers) signOut(w http.ResponseWriter, r *http.Request) {
	if err := h.Identity.SignOut(r.Context()); err != nil {
		response.FromError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) guest(w http.ResponseWriter, r *http.Request) {
	if h.Guests == nil {
		response.WriteError(w, http.StatusNotImplemented, "access codes need the cloud store", response.CodeNotConnected)
		return
	}
	var in struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &in) {
		return
	}
	if err := h.Guests.UseAccessCode(r.Context(), in.Code); err != nil {
		logger.WarnContext(r.Context(), "guest access refused", "error", err)
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, h.sessionView(h.Identity.CurrentUser(), true))
}
