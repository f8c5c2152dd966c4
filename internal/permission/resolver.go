// Package permission derives what a principal may do with a holiday.
package permission

import (
	"github.com/diagnosis/wanderlust/internal/domain"
	"github.com/diagnosis/wanderlust/internal/utils"
)

// Resolve returns the effective permission of p on h. Guests are always viewers,
// ownership beats any collaborator entry, and an unknown principal gets none.
func Resolve(p *domain.Principal, h domain.Holiday) domain.Permission {
	if p == nil {
		return domain.PermissionNone
	}
	if p.Guest {
		return domain.PermissionViewer
	}
	if p.ID != "" && h.OwnerID == p.ID {
		return domain.PermissionOwner
	}
	role, ok := h.CollaboratorRole(utils.NormalizeEmail(p.Email))
	if !ok {
		return domain.PermissionNone
	}
	switch role {
	case domain.RoleEditor:
		return domain.PermissionEditor
	case domain.RoleViewer:
		return domain.PermissionViewer
	default:
		return domain.PermissionNone
	}
}

// Visible filters holidays down to those p may see at all.
func Visible(p *domain.Principal, hs []domain.Holiday) []domain.Holiday {
	out := make([]domain.Holiday, 0, len(hs))
	for _, h := range hs {
		if Resolve(p, h).CanView() {
			out = append(out, h)
		}
	}
	return out
}
