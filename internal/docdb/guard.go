package docdb

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/diagnosis/wanderlust/internal/domain"
)

// Guarded enforces the holiday collection's security rules in front of a DB. The
// rules are evaluated against the Caller carried on the context.
type Guarded struct {
	db DB
}

func Guard(db DB) *Guarded { return &Guarded{db: db} }

func (g *Guarded) Create(ctx context.Context, h domain.Holiday) error {
	c, ok := CallerFrom(ctx)
	if !ok || c.Anonymous || c.UID == "" || h.OwnerID != c.UID {
		return fmt.Errorf("create holiday: %w", ErrPermissionDenied)
	}
	return g.db.Create(ctx, h)
}

func (g *Guarded) Get(ctx context.Context, id string) (domain.Holiday, error) {
	c, ok := CallerFrom(ctx)
	if !ok {
		return domain.Holiday{}, fmt.Errorf("get holiday: %w", ErrPermissionDenied)
	}
	h, err := g.db.Get(ctx, id)
	if err != nil {
		return domain.Holiday{}, err
	}
	if !canRead(c, h) {
		return domain.Holiday{}, fmt.Errorf("get holiday: %w", ErrPermissionDenied)
	}
	return h, nil
}

func (g *Guarded) Update(ctx context.Context, id string, p Patch) error {
	c, ok := CallerFrom(ctx)
	if !ok || c.Anonymous {
		return fmt.Errorf("update holiday: %w", ErrPermissionDenied)
	}
	h, err := g.db.Get(ctx, id)
	if err != nil {
		return err
	}
	if !canWrite(c, h, p) {
		return fmt.Errorf("update holiday: %w", ErrPermissionDenied)
	}
	return g.db.Update(ctx, id, p)
}

func (g *Guarded) Delete(ctx context.Context, id string) error {
	c, ok := CallerFrom(ctx)
	if !ok || c.Anonymous {
		return fmt.Errorf("delete holiday: %w", ErrPermissionDenied)
	}
	h, err := g.db.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if h.OwnerID != c.UID {
		return fmt.Errorf("delete holiday: %w", ErrPermissionDenied)
	}
	return g.db.Delete(ctx, id)
}

func (g *Guarded) Subscribe(ctx context.Context, q Query, onNext func([]domain.Holiday), onErr func(error)) func() {
	c, ok := CallerFrom(ctx)
	if !ok || !canQuery(c, q) {
		f := NewFeed(onNext, onErr)
		go f.Fail(fmt.Errorf("query %s: %w", q, ErrPermissionDenied))
		return f.Close
	}
	return g.db.Subscribe(ctx, q, onNext, onErr)
}

func canRead(c Caller, h domain.Holiday) bool {
	if c.Anonymous {
		return false
	}
	return h.OwnerID == c.UID || (c.Email != "" && slices.Contains(h.SharedEmails, c.Email))
}

func canWrite(c Caller, h domain.Holiday, p Patch) bool {
	if h.OwnerID == c.UID {
		return true
	}
	role, ok := h.CollaboratorRole(c.Email)
	if !ok || role != domain.RoleEditor {
		return false
	}
	fields := p.Fields()
	return len(fields) == 1 && fields[0] == "itinerary"
}

func canQuery(c Caller, q Query) bool {
	switch {
	case q.Field == FieldAccessCode && q.Op == OpEqual:
		return q.Value != ""
	case c.Anonymous:
		return false
	case q.Field == FieldOwnerID && q.Op == OpEqual:
		return q.Value == c.UID && c.UID != ""
	case q.Field == FieldSharedEmails && q.Op == OpArrayContains:
		return q.Value == c.Email && c.Email != ""
	default:
		return false
	}
}

var _ DB = (*Guarded)(nil)
