// Package docdb is the document-store contract the cloud holiday store is built on:
// single-document writes, equality and array-membership queries, and live
// subscriptions that push the full result set whenever it may have changed.
package docdb

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/diagnosis/wanderlust/internal/domain"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrExists           = errors.New("document already exists")
	ErrPermissionDenied = errors.New("missing or insufficient permissions")
	ErrConflict         = errors.New("document version mismatch")
)

type Field string

const (
	FieldOwnerID      Field = "ownerId"
	FieldSharedEmails Field = "sharedEmails"
	FieldAccessCode   Field = "accessCode"
)

type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
)

type Query struct {
	Field Field
	Op    Op
	Value string
}

func Where(field Field, op Op, value string) Query {
	return Query{Field: field, Op: op, Value: value}
}

func (q Query) String() string {
	return fmt.Sprintf("%s %s %q", q.Field, q.Op, q.Value)
}

// Matches evaluates q against h in memory.
func (q Query) Matches(h domain.Holiday) bool {
	switch q.Field {
	case FieldOwnerID:
		return q.Op == OpEqual && h.OwnerID == q.Value
	case FieldAccessCode:
		return q.Op == OpEqual && q.Value != "" && h.AccessCode == q.Value
	case FieldSharedEmails:
		return q.Op == OpArrayContains && slices.Contains(h.SharedEmails, q.Value)
	default:
		return false
	}
}

// Patch is a partial update. Nil fields are left untouched. A non-zero IfVersion
// makes the write conditional on the stored version.
type Patch struct {
	Name          *string
	Itinerary     *[]domain.ItineraryItem
	Collaborators *[]domain.Collaborator
	SharedEmails  *[]string
	AccessCode    *string
	IfVersion     int64
}

// Fields lists the document fields the patch writes.
func (p Patch) Fields() []string {
	var out []string
	if p.Name != nil {
		out = append(out, "name")
	}
	if p.Itinerary != nil {
		out = append(out, "itinerary")
	}
	if p.Collaborators != nil {
		out = append(out, "collaborators")
	}
	if p.SharedEmails != nil {
		out = append(out, "sharedEmails")
	}
	if p.AccessCode != nil {
		out = append(out, "accessCode")
	}
	return out
}

// Apply writes the patch onto h and bumps its version.
func (p Patch) Apply(h *domain.Holiday) {
	if p.Name != nil {
		h.Name = *p.Name
	}
	if p.Itinerary != nil {
		h.Itinerary = slices.Clone(*p.Itinerary)
	}
	if p.Collaborators != nil {
		h.Collaborators = slices.Clone(*p.Collaborators)
	}
	if p.SharedEmails != nil {
		h.SharedEmails = slices.Clone(*p.SharedEmails)
	}
	if p.AccessCode != nil {
		h.AccessCode = *p.AccessCode
	}
	h.Version++
}

type DB interface {
	Create(ctx context.Context, h domain.Holiday) error
	Get(ctx context.Context, id string) (domain.Holiday, error)
	Update(ctx context.Context, id string, p Patch) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, id string) error
	// Subscribe delivers the current result set of q and then a fresh one after
	// every change that may affect it. After an error no further callbacks arrive.
	// The returned cancel func is synchronous: once it returns, neither callback
	// will be invoked again.
	Subscribe(ctx context.Context, q Query, onNext func([]domain.Holiday), onErr func(error)) (cancel func())
}

type Caller struct {
	UID       string
	Email     string
	Anonymous bool
}

type callerKey struct{}

// WithCaller attaches the authenticated identity the security rules evaluate.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
