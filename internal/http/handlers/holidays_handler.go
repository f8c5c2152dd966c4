package handlers

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/wanderlust/internal/domain"
	"github.com/diagnosis/wanderlust/internal/export"
	"github.com/diagnosis/wanderlust/internal/http/response"
	"github.com/diagnosis/wanderlust/internal/platform/mailer"
	"github.com/diagnosis/wanderlust/internal/utils"
	"github.com/diagnosis/wanderlust/pkg/logger"
)

// holidayView is a holiday as one principal sees it.
type holidayView struct {
	domain.Holiday
	Permission domain.Permission `json:"permission"`
}

func (h *Handlers) view(p *domain.Principal, hol domain.Holiday) holidayView {
	perm := h.permission(p, hol)
	if !perm.CanManage() {
		hol.AccessCode = ""
	}
	return holidayView{Holiday: hol, Permission: perm}
}

func (h *Handlers) views(p *domain.Principal, hs []domain.Holiday) []holidayView {
	out := make([]holidayView, 0, len(hs))
	for _, hol := range hs {
		if v := h.view(p, hol); v.Permission.CanView() {
			out = append(out, v)
		}
	}
	return out
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]any{"holidays": h.views(h.principal(r), h.Store.Holidays())})
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &in) {
		return
	}
	id, err := h.Store.AddHoliday(r.Context(), in.Name)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	h.Session.SetActiveHoliday(id)
	response.JSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	hol, _, ok := h.holidayFor(w, r, domain.Permission.CanView)
	if !ok {
		return
	}
	response.JSON(w, http.StatusOK, h.view(h.principal(r), hol))
}

func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	hol, _, ok := h.holidayFor(w, r, domain.Permission.CanManage)
	if !ok {
		return
	}
	if err := h.Store.DeleteHoliday(r.Context(), hol.ID); err != nil {
		response.FromError(w, r, err)
		return
	}
	if h.Session.ActiveHoliday() == hol.ID {
		h.Session.SetActiveHoliday("")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) updateItinerary(w http.ResponseWriter, r *http.Request) {
	hol, _, ok := h.holidayFor(w, r, domain.Permission.CanEdit)
	if !ok {
		return
	}
	var in struct {
		Itinerary []domain.ItineraryItem `json:"itinerary"`
	}
	if !decode(w, r, &in) {
		return
	}
	if err := h.Store.UpdateItinerary(r.Context(), hol.ID, in.Itinerary); err != nil {
		response.FromError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) share(w http.ResponseWriter, r *http.Request) {
	hol, _, ok := h.holidayFor(w, r, domain.Permission.CanManage)
	if !ok {
		return
	}
	var in struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if !decode(w, r, &in) {
		return
	}
	role, valid := domain.ParseRole(in.Role)
	if !valid {
		response.BadRequest(w, "role must be viewer or editor")
		return
	}
	if err := h.Store.ShareHoliday(r.Context(), hol.ID, in.Email, role); err != nil {
		response.FromError(w, r, err)
		return
	}

	if h.Mailer != nil {
		inv := mailer.Invite{
			ToEmail:     utils.NormalizeEmail(in.Email),
			HolidayName: hol.Name,
			Role:        string(role),
			Link:        h.PublicURL,
		}
		if u := h.Identity.CurrentUser(); u != nil {
			inv.Inviter = u.Name
			if inv.Inviter == "" {
				inv.Inviter = u.Email
			}
		}
		if err := h.Mailer.SendShareInvite(inv); err != nil {
			logger.WarnContext(r.Context(), "share invite not sent", "holiday_id", hol.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) removeCollaborator(w http.ResponseWriter, r *http.Request) {
	hol, _, ok := h.holidayFor(w, r, domain.Permission.CanManage)
	if !ok {
		return
	}
	email, err := url.PathUnescape(chi.URLParam(r, "email"))
	if err != nil {
		response.BadRequest(w, "invalid email")
		return
	}
	if err := h.Store.RemoveCollaborator(r.Context(), hol.ID, email); err != nil {
		response.FromError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) generateAccessCode(w http.ResponseWriter, r *http.Request) {
	hol, _, ok := h.holidayFor(w, r, domain.Permission.CanManage)
	if !ok {
		return
	}
	code, err := h.Store.GenerateAccessCode(r.Context(), hol.ID)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]string{
		"accessCode": code,
		"guestLink":  export.GuestLink(h.PublicURL, code),
	})
}
