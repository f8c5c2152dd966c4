package domain

import (
	"slices"
	"time"
)

type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleViewer, RoleEditor:
		return Role(s), true
	default:
		return "", false
	}
}

type Collaborator struct {
	Email string `json:"email" bson:"email"`
	Role  Role   `json:"role" bson:"role"`
}

// ItineraryItem is a single dated activity. Date is YYYY-MM-DD and Time is HH:MM;
// an empty Time means the item spans the whole day.
type ItineraryItem struct {
	ID       string `json:"id" bson:"id" validate:"required"`
	Date     string `json:"date" bson:"date" validate:"required,datetime=2006-01-02"`
	Time     string `json:"time,omitempty" bson:"time,omitempty" validate:"omitempty,datetime=15:04"`
	Activity string `json:"activity" bson:"activity" validate:"required"`
	Location string `json:"location,omitempty" bson:"location,omitempty"`
	Notes    string `json:"notes,omitempty" bson:"notes,omitempty"`
}

// Holiday is the persisted trip document. SharedEmails always holds exactly the
// emails listed in Collaborators; use the collaborator helpers to keep them aligned.
type Holiday struct {
	ID            string          `json:"id" bson:"_id"`
	Name          string          `json:"name" bson:"name"`
	OwnerID       string          `json:"ownerId" bson:"ownerId"`
	OwnerEmail    string          `json:"ownerEmail" bson:"ownerEmail"`
	CreatedAt     time.Time       `json:"createdAt" bson:"createdAt"`
	Itinerary     []ItineraryItem `json:"itinerary" bson:"itinerary"`
	SharedEmails  []string        `json:"sharedEmails" bson:"sharedEmails"`
	Collaborators []Collaborator  `json:"collaborators" bson:"collaborators"`
	AccessCode    string          `json:"accessCode,omitempty" bson:"accessCode,omitempty"`
	Version       int64           `json:"version" bson:"version"`
}

// Clone returns a copy that shares no slices with h.
func (h Holiday) Clone() Holiday {
	c := h
	c.Itinerary = slices.Clone(h.Itinerary)
	c.SharedEmails = slices.Clone(h.SharedEmails)
	c.Collaborators = slices.Clone(h.Collaborators)
	if c.Itinerary == nil {
		c.Itinerary = []ItineraryItem{}
	}
	if c.SharedEmails == nil {
		c.SharedEmails = []string{}
	}
	if c.Collaborators == nil {
		c.Collaborators = []Collaborator{}
	}
	return c
}

// CollaboratorRole looks up the role held by email, if any.
func (h Holiday) CollaboratorRole(email string) (Role, bool) {
	for _, c := range h.Collaborators {
		if c.Email == email {
			return c.Role, true
		}
	}
	return "", false
}

// WithCollaborator upserts email with role. Any previous entry for the email is replaced.
func WithCollaborator(list []Collaborator, email string, role Role) []Collaborator {
	out := WithoutCollaborator(list, email)
	return append(out, Collaborator{Email: email, Role: role})
}

func WithoutCollaborator(list []Collaborator, email string) []Collaborator {
	out := make([]Collaborator, 0, len(list)+1)
	for _, c := range list {
		if c.Email != email {
			out = append(out, c)
		}
	}
	return out
}

// SharedEmailsOf derives the membership list for a collaborator list.
func SharedEmailsOf(list []Collaborator) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		if !slices.Contains(out, c.Email) {
			out = append(out, c.Email)
		}
	}
	return out
}

func CloneHolidays(hs []Holiday) []Holiday {
	out := make([]Holiday, len(hs))
	for i, h := range hs {
		out[i] = h.Clone()
	}
	return out
}
