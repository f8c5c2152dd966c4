package permission

import (
	"testing"

	"github.com/diagnosis/wanderlust/internal/domain"
)

func TestResolve(t *testing.T) {
	h := domain.Holiday{
		ID:      "h1",
		OwnerID: "owner-1",
		Collaborators: []domain.Collaborator{
			{Email: "ed@example.com", Role: domain.RoleEditor},
			{Email: "vi@example.com", Role: domain.RoleViewer},
			{Email: "owner@example.com", Role: domain.RoleViewer},
		},
	}

	tests := []struct {
		name string
		p    *domain.Principal
		want domain.Permission
	}{
		{"no principal", nil, domain.PermissionNone},
		{"owner", &domain.Principal{ID: "owner-1", Email: "owner@example.com"}, domain.PermissionOwner},
		{"editor", &domain.Principal{ID: "u2", Email: "ed@example.com"}, domain.PermissionEditor},
		{"editor mixed case email", &domain.Principal{ID: "u2", Email: "Ed@Example.com"}, domain.PermissionEditor},
		{"viewer", &domain.Principal{ID: "u3", Email: "vi@example.com"}, domain.PermissionViewer},
		{"stranger", &domain.Principal{ID: "u4", Email: "who@example.com"}, domain.PermissionNone},
		{"guest listed as editor", &domain.Principal{ID: "anon", Email: "ed@example.com", Guest: true}, domain.PermissionViewer},
		{"guest without email", &domain.Principal{ID: "anon", Guest: true, AccessCode: "ABC234"}, domain.PermissionViewer},
		{"empty id never matches empty owner", &domain.Principal{Email: "x@example.com"}, domain.PermissionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.p, h); got != tt.want {
				t.Fatalf("Resolve() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolve_IsPure(t *testing.T) {
	h := domain.Holiday{OwnerID: "o", Collaborators: []domain.Collaborator{{Email: "a@x.com", Role: domain.RoleEditor}}}
	p := &domain.Principal{ID: "u", Email: "a@x.com"}
	first := Resolve(p, h)
	for i := 0; i < 10; i++ {
		if got := Resolve(p, h); got != first {
			t.Fatalf("call %d returned %s, first call returned %s", i, got, first)
		}
	}
	if len(h.Collaborators) != 1 || h.Collaborators[0].Role != domain.RoleEditor {
		t.Fatal("Resolve mutated the holiday")
	}
}

func TestVisible(t *testing.T) {
	hs := []domain.Holiday{
		{ID: "mine", OwnerID: "u"},
		{ID: "shared", OwnerID: "o", Collaborators: []domain.Collaborator{{Email: "u@x.com", Role: domain.RoleViewer}}},
		{ID: "leaked", OwnerID: "o"},
	}
	got := Visible(&domain.Principal{ID: "u", Email: "u@x.com"}, hs)
	if len(got) != 2 || got[0].ID != "mine" || got[1].ID != "shared" {
		t.Fatalf("Visible() = %+v", got)
	}
}
