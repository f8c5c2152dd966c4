// Package local is the single-device holiday store. Every operation reads the whole
// collection from a kv.Store, changes it in memory, writes it back and notifies
// subscribers before returning.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/wanderlust/internal/domain"
	"github.com/diagnosis/wanderlust/internal/kv"
	"github.com/diagnosis/wanderlust/internal/session"
	"github.com/diagnosis/wanderlust/internal/store"
	"github.com/diagnosis/wanderlust/pkg/logger"
)

const DefaultKey = "wanderlust_holidays"

// Owner is the principal local holidays belong to while nobody is signed in.
var Owner = domain.Principal{ID: "local"}

type Store struct {
	kv      kv.Store
	key     string
	session *session.Session

	mu sync.Mutex
	b  store.Broadcaster

	// digest is the hash of the stored value subscribers last saw.
	digest [sha256.Size]byte
	now    func() time.Time
	newID  func() string
}

type Option func(*Store)

func WithKey(key string) Option { return func(s *Store) { s.key = key } }

// WithSession attributes new holidays to the signed-in principal.
func WithSession(sess *session.Session) Option { return func(s *Store) { s.session = sess } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New loads the persisted collection so the first subscriber sees it.
func New(ctx context.Context, kvs kv.Store, opts ...Option) (*Store, error) {
	s := &Store{
		kv:    kvs,
		key:   DefaultKey,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	hs, digest, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	s.digest = digest
	s.b.Publish(hs)
	logger.Info("local store loaded", "key", s.key, "holidays", len(hs))
	return s, nil
}

// Principal is who local writes are attributed to.
func (s *Store) Principal() domain.Principal {
	if s.session != nil {
		if p := s.session.Principal(); p != nil && !p.Guest {
			return *p
		}
	}
	return Owner
}

func (s *Store) Subscribe(fn func([]domain.Holiday)) func() { return s.b.Subscribe(fn) }

func (s *Store) Holidays() []domain.Holiday { return s.b.Snapshot() }

func (s *Store) Holiday(id string) (domain.Holiday, bool) { return s.b.Find(id) }

// Refresh re-reads the collection to pick up writes from other processes. Subscribers
// are notified only when the stored value changed.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs, digest, err := s.read(ctx)
	if err != nil {
		return err
	}
	if digest == s.digest {
		return nil
	}
	s.digest = digest
	s.b.Publish(hs)
	return nil
}

func (s *Store) AddHoliday(ctx context.Context, name string) (string, error) {
	name, err := domain.ValidateName(name)
	if err != nil {
		return "", err
	}
	owner := s.Principal()
	h := domain.Holiday{
		ID:         s.newID(),
		Name:       name,
		OwnerID:    owner.ID,
		OwnerEmail: owner.Email,
		CreatedAt:  s.now().UTC(),
		Version:    1,
	}.Clone()

	err = s.mutate(ctx, func(hs []domain.Holiday) ([]domain.Holiday, error) {
		return append(hs, h), nil
	})
	if err != nil {
		return "", err
	}
	logger.InfoContext(ctx, "holiday created", "holiday_id", h.ID)
	return h.ID, nil
}

func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	return s.mutate(ctx, func(hs []domain.Holiday) ([]domain.Holiday, error) {
		return slices.DeleteFunc(hs, func(h domain.Holiday) bool { return h.ID == id }), nil
	})
}

func (s *Store) UpdateItinerary(ctx context.Context, holidayID string, items []domain.ItineraryItem) error {
	items, err := domain.NormalizeItems(items)
	if err != nil {
		return err
	}
	return s.update(ctx, holidayID, func(h *domain.Holiday) {
		h.Itinerary = items
	})
}

func (s *Store) ShareHoliday(ctx context.Context, holidayID, email string, role domain.Role) error {
	email, err := domain.ValidateEmail(email)
	if err != nil {
		return err
	}
	if _, ok := domain.ParseRole(string(role)); !ok {
		return fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}
	return s.update(ctx, holidayID, func(h *domain.Holiday) {
		h.Collaborators = domain.WithCollaborator(h.Collaborators, email, role)
		h.SharedEmails = domain.SharedEmailsOf(h.Collaborators)
	})
}

func (s *Store) RemoveCollaborator(ctx context.Context, holidayID, email string) error {
	email, err := domain.ValidateEmail(email)
	if err != nil {
		return err
	}
	return s.update(ctx, holidayID, func(h *domain.Holiday) {
		h.Collaborators = domain.WithoutCollaborator(h.Collaborators, email)
		h.SharedEmails = domain.SharedEmailsOf(h.Collaborators)
	})
}

func (s *Store) GenerateAccessCode(ctx context.Context, holidayID string) (string, error) {
	code, err := domain.NewAccessCode()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBackend, err)
	}
	err = s.update(ctx, holidayID, func(h *domain.Holiday) {
		h.AccessCode = code
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

func (s *Store) update(ctx context.Context, id string, fn func(*domain.Holiday)) error {
	return s.mutate(ctx, func(hs []domain.Holiday) ([]domain.Holiday, error) {
		i := slices.IndexFunc(hs, func(h domain.Holiday) bool { return h.ID == id })
		if i < 0 {
			return nil, fmt.Errorf("%w: holiday %s", domain.ErrNotFound, id)
		}
		fn(&hs[i])
		hs[i].Version++
		return hs, nil
	})
}

// mutate runs one read-modify-write cycle and notifies with the written collection.
func (s *Store) mutate(ctx context.Context, fn func([]domain.Holiday) ([]domain.Holiday, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs, _, err := s.read(ctx)
	if err != nil {
		return err
	}
	hs, err = fn(hs)
	if err != nil {
		return err
	}
	digest, err := s.write(ctx, hs)
	if err != nil {
		return err
	}
	s.digest = digest
	s.b.Publish(hs)
	return nil
}

func (s *Store) read(ctx context.Context) ([]domain.Holiday, [sha256.Size]byte, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, [sha256.Size]byte{}, fmt.Errorf("%w: load holidays: %v", domain.ErrBackend, err)
	}
	digest := sha256.Sum256(raw)
	if !ok || len(raw) == 0 {
		return []domain.Holiday{}, digest, nil
	}
	var hs []domain.Holiday
	if err := json.Unmarshal(raw, &hs); err != nil {
		return nil, digest, fmt.Errorf("%w: decode holidays: %v", domain.ErrBackend, err)
	}
	for i := range hs {
		hs[i] = hs[i].Clone()
	}
	return hs, digest, nil
}

func (s *Store) write(ctx context.Context, hs []domain.Holiday) ([sha256.Size]byte, error) {
	raw, err := json.Marshal(hs)
	if err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("%w: encode holidays: %v", domain.ErrBackend, err)
	}
	if err := s.kv.Set(ctx, s.key, raw); err != nil {
		return [sha256.Size]byte{}, fmt.Errorf("%w: save holidays: %v", domain.ErrBackend, err)
	}
	return sha256.Sum256(raw), nil
}

var _ store.HolidayStore = (*Store)(nil)
