// Package store defines the holiday store contract shared by the local and cloud
// backends, and the snapshot fan-out both of them notify through.
package store

import (
	"context"
	"sync"

	"github.com/diagnosis/wanderlust/internal/domain"
)

// HolidayStore owns the snapshot of every holiday visible to the current principal.
// Mutations return once the backend acknowledged the write; their effect is observed
// through Subscribe.
type HolidayStore interface {
	// Subscribe calls fn with the current snapshot right away and again after every
	// change. The returned func detaches fn.
	Subscribe(fn func([]domain.Holiday)) (unsubscribe func())
	Holidays() []domain.Holiday
	Holiday(id string) (domain.Holiday, bool)

	AddHoliday(ctx context.Context, name string) (string, error)
	DeleteHoliday(ctx context.Context, id string) error
	UpdateItinerary(ctx context.Context, holidayID string, items []domain.ItineraryItem) error
	ShareHoliday(ctx context.Context, holidayID, email string, role domain.Role) error
	RemoveCollaborator(ctx context.Context, holidayID, email string) error
	GenerateAccessCode(ctx context.Context, holidayID string) (string, error)
}

// GuestAccess is implemented by backends that admit anonymous guests by access code.
type GuestAccess interface {
	UseAccessCode(ctx context.Context, code string) error
	// Alerts registers fn for user-facing messages about guest access.
	Alerts(fn func(message string)) (unsubscribe func())
}

// Broadcaster keeps the latest snapshot and hands it to every listener. Deliveries
// are serialized so listeners observe snapshots in publish order. Listeners must not
// call Publish or Subscribe themselves.
type Broadcaster struct {
	deliver sync.Mutex

	mu        sync.RWMutex
	snapshot  []domain.Holiday
	listeners map[int]func([]domain.Holiday)
	next      int
}

func (b *Broadcaster) Subscribe(fn func([]domain.Holiday)) func() {
	b.deliver.Lock()
	defer b.deliver.Unlock()

	b.mu.Lock()
	if b.listeners == nil {
		b.listeners = make(map[int]func([]domain.Holiday))
	}
	id := b.next
	b.next++
	b.listeners[id] = fn
	current := domain.CloneHolidays(b.snapshot)
	b.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Publish replaces the snapshot and notifies every listener with it.
func (b *Broadcaster) Publish(hs []domain.Holiday) {
	b.deliver.Lock()
	defer b.deliver.Unlock()

	sorted := domain.SortHolidays(domain.CloneHolidays(hs))
	b.mu.Lock()
	b.snapshot = sorted
	fns := make([]func([]domain.Holiday), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(domain.CloneHolidays(sorted))
	}
}

func (b *Broadcaster) Snapshot() []domain.Holiday {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return domain.CloneHolidays(b.snapshot)
}

func (b *Broadcaster) Find(id string) (domain.Holiday, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.snapshot {
		if h.ID == id {
			return h.Clone(), true
		}
	}
	return domain.Holiday{}, false
}
