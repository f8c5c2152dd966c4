// Package cloud is the multi-device holiday store. It keeps a live view of every
// holiday the signed-in principal may see by merging two document subscriptions,
// one on owned holidays and one on holidays shared with the principal's email.
// Anonymous guests instead follow the single holiday matching their access code.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/wanderlust/internal/docdb"
	"github.com/diagnosis/wanderlust/internal/domain"
	"github.com/diagnosis/wanderlust/internal/identity"
	"github.com/diagnosis/wanderlust/internal/session"
	"github.com/diagnosis/wanderlust/internal/store"
	"github.com/diagnosis/wanderlust/pkg/events"
	"github.com/diagnosis/wanderlust/pkg/logger"
)

const (
	feedOwned  = "owned"
	feedShared = "shared"
	feedGuest  = "guest"
)

const (
	AlertInvalidCode = "That access code is invalid or has expired."
	AlertNoMatch     = "No holiday is shared with that access code."
)

// Auth is the part of the identity provider the store follows.
type Auth interface {
	OnAuthStateChanged(fn func(*identity.User)) (unsubscribe func())
	SignInAnonymously(ctx context.Context) (*identity.User, error)
}

type Store struct {
	db      docdb.DB
	auth    Auth
	session *session.Session
	events  events.Publisher
	now     func() time.Time
	newID   func() string

	b      store.Broadcaster
	alerts alerts

	mu        sync.Mutex
	user      *identity.User
	guestCode string
	gen       uint64
	cancels   []func()
	owned     []domain.Holiday
	shared    []domain.Holiday
	seq       uint64

	// pub orders snapshot deliveries. It is never taken while mu is held.
	pub       sync.Mutex
	published uint64

	unsubAuth func()
}

type Option func(*Store)

func WithEvents(p events.Publisher) Option { return func(s *Store) { s.events = p } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New starts following auth state right away; the current user, if any, is
// subscribed before New returns.
func New(db docdb.DB, auth Auth, sess *session.Session, opts ...Option) *Store {
	s := &Store{
		db:      db,
		auth:    auth,
		session: sess,
		events:  events.Nop{},
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubAuth = auth.OnAuthStateChanged(s.onAuthState)
	return s
}

// Close stops following auth state and cancels every live subscription.
func (s *Store) Close() {
	if s.unsubAuth != nil {
		s.unsubAuth()
	}
	s.teardown()
}

func (s *Store) Subscribe(fn func([]domain.Holiday)) func() { return s.b.Subscribe(fn) }

func (s *Store) Holidays() []domain.Holiday { return s.b.Snapshot() }

func (s *Store) Holiday(id string) (domain.Holiday, bool) { return s.b.Find(id) }

func (s *Store) Alerts(fn func(string)) func() { return s.alerts.add(fn) }

// Connected reports whether a session is active.
func (s *Store) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user != nil
}

func (s *Store) onAuthState(u *identity.User) {
	s.teardown()

	s.mu.Lock()
	s.user = u
	s.owned, s.shared = nil, nil
	gen := s.gen
	code := s.guestCode
	if u == nil || !u.Anonymous {
		s.guestCode = ""
		code = ""
	}
	seq := s.stageLocked()
	s.mu.Unlock()

	switch {
	case u == nil:
		s.session.Clear()
		s.publish(seq, nil)
		logger.Info("cloud store disconnected")
	case u.Anonymous:
		s.session.SetPrincipal(domain.Principal{ID: u.ID, Guest: true, AccessCode: code})
		s.publish(seq, nil)
		if code != "" {
			s.watchGuest(gen, u, code)
		}
	default:
		s.session.SetPrincipal(domain.Principal{ID: u.ID, Email: u.Email})
		s.publish(seq, nil)
		s.watchMember(gen, u)
	}
}

// UseAccessCode admits the current session as a guest of the holiday holding code.
// Without a session an anonymous one is started. A guest already following another
// code is switched over without signing out.
func (s *Store) UseAccessCode(ctx context.Context, code string) error {
	code = domain.NormalizeAccessCode(code)
	if !domain.IsAccessCode(code) {
		return fmt.Errorf("%w: access code must be %d characters from %s", domain.ErrValidation, domain.AccessCodeLength, domain.AccessCodeAlphabet)
	}

	s.mu.Lock()
	u := s.user
	if u != nil && !u.Anonymous {
		s.mu.Unlock()
		return fmt.Errorf("%w: sign out before using an access code", domain.ErrValidation)
	}
	s.guestCode = code
	s.mu.Unlock()

	if u == nil {
		if _, err := s.auth.SignInAnonymously(ctx); err != nil {
			return fmt.Errorf("%w: guest sign-in: %v", domain.ErrBackend, err)
		}
		return nil
	}

	s.teardown()
	s.mu.Lock()
	u = s.user
	if u == nil || !u.Anonymous {
		s.mu.Unlock()
		return fmt.Errorf("%w: session changed while switching access code", domain.ErrNotConnected)
	}
	s.owned, s.shared = nil, nil
	gen := s.gen
	seq := s.stageLocked()
	s.mu.Unlock()

	s.session.SetPrincipal(domain.Principal{ID: u.ID, Guest: true, AccessCode: code})
	s.publish(seq, nil)
	s.watchGuest(gen, u, code)
	logger.InfoContext(ctx, "guest access code switched")
	return nil
}

func (s *Store) watchMember(gen uint64, u *identity.User) {
	ctx := docdb.WithCaller(context.Background(), callerOf(u))

	cancelOwned := s.db.Subscribe(ctx, docdb.Where(docdb.FieldOwnerID, docdb.OpEqual, u.ID),
		func(hs []domain.Holiday) { s.deliver(gen, feedOwned, hs) },
		func(err error) { s.feedFailed(feedOwned, err) })
	cancelShared := s.db.Subscribe(ctx, docdb.Where(docdb.FieldSharedEmails, docdb.OpArrayContains, u.Email),
		func(hs []domain.Holiday) { s.deliver(gen, feedShared, hs) },
		func(err error) { s.feedFailed(feedShared, err) })

	s.attach(gen, cancelOwned, cancelShared)
}

func (s *Store) watchGuest(gen uint64, u *identity.User, code string) {
	ctx := docdb.WithCaller(context.Background(), callerOf(u))

	cancel := s.db.Subscribe(ctx, docdb.Where(docdb.FieldAccessCode, docdb.OpEqual, code),
		func(hs []domain.Holiday) {
			if len(hs) == 0 {
				s.alerts.send(AlertNoMatch)
			}
			s.deliver(gen, feedGuest, hs)
		},
		func(err error) {
			s.feedFailed(feedGuest, err)
			s.alerts.send(AlertInvalidCode)
		})

	s.attach(gen, cancel)
}

// attach keeps the cancel funcs of subscriptions started for gen, or cancels them
// right away if the session moved on in the meantime.
func (s *Store) attach(gen uint64, cancels ...func()) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		for _, c := range cancels {
			c()
		}
		return
	}
	s.cancels = append(s.cancels, cancels...)
	s.mu.Unlock()
}

// teardown cancels every live subscription. Callbacks already in flight finish
// before it returns and later ones are dropped by the generation check.
func (s *Store) teardown() {
	s.mu.Lock()
	s.gen++
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
}

// deliver records the latest result set of one feed and publishes the merged view.
// The guest feed takes the owned slot; the shared slot stays empty for guests.
func (s *Store) deliver(gen uint64, feed string, hs []domain.Holiday) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if feed == feedShared {
		s.shared = hs
	} else {
		s.owned = hs
	}
	merged := Merge(s.owned, s.shared)
	seq := s.stageLocked()
	s.mu.Unlock()

	s.publish(seq, merged)
}

func (s *Store) stageLocked() uint64 {
	s.seq++
	return s.seq
}

// publish hands a snapshot to subscribers unless a newer one already went out.
func (s *Store) publish(seq uint64, hs []domain.Holiday) {
	s.pub.Lock()
	defer s.pub.Unlock()
	if seq <= s.published {
		return
	}
	s.published = seq
	s.b.Publish(hs)
}

func (s *Store) feedFailed(feed string, err error) {
	logger.Error("holiday feed failed", "feed", feed, "error", err)
}

// Merge returns owned followed by every shared holiday whose id is not owned.
func Merge(owned, shared []domain.Holiday) []domain.Holiday {
	out := make([]domain.Holiday, 0, len(owned)+len(shared))
	ids := make(map[string]struct{}, len(owned))
	for _, h := range owned {
		ids[h.ID] = struct{}{}
		out = append(out, h)
	}
	for _, h := range shared {
		if _, dup := ids[h.ID]; !dup {
			out = append(out, h)
		}
	}
	return out
}

func (s *Store) AddHoliday(ctx context.Context, name string) (string, error) {
	name, err := domain.ValidateName(name)
	if err != nil {
		return "", err
	}
	ctx, u, err := s.caller(ctx)
	if err != nil {
		return "", err
	}

	h := domain.Holiday{
		ID:         s.newID(),
		Name:       name,
		OwnerID:    u.ID,
		OwnerEmail: u.Email,
		CreatedAt:  s.now().UTC(),
	}.Clone()
	if err := s.db.Create(ctx, h); err != nil {
		return "", mapErr("create holiday", err)
	}

	s.emit(ctx, events.HolidayCreated, events.HolidayCreatedEvent{
		HolidayEvent: s.event(h.ID, u), Name: name,
	})
	return h.ID, nil
}

// DeleteHoliday leaves authorization to the backend rules: a non-owner gets
// domain.ErrPermission.
func (s *Store) DeleteHoliday(ctx context.Context, id string) error {
	ctx, u, err := s.caller(ctx)
	if err != nil {
		return err
	}
	if err := s.db.Delete(ctx, id); err != nil {
		return mapErr("delete holiday", err)
	}
	s.emit(ctx, events.HolidayDeleted, s.event(id, u))
	return nil
}

func (s *Store) UpdateItinerary(ctx context.Context, holidayID string, items []domain.ItineraryItem) error {
	items, err := domain.NormalizeItems(items)
	if err != nil {
		return err
	}
	ctx, u, err := s.caller(ctx)
	if err != nil {
		return err
	}
	if _, ok := s.b.Find(holidayID); !ok {
		return fmt.Errorf("%w: holiday %s", domain.ErrNotFound, holidayID)
	}

	if err := s.db.Update(ctx, holidayID, docdb.Patch{Itinerary: &items}); err != nil {
		return mapErr("update itinerary", err)
	}
	s.emit(ctx, events.HolidayItineraryUpdated, events.ItineraryUpdatedEvent{
		HolidayEvent: s.event(holidayID, u), Items: len(items),
	})
	return nil
}

// ShareHoliday upserts a collaborator with a read-modify-write conditioned on the
// version read, so a concurrent change yields domain.ErrConflict.
func (s *Store) ShareHoliday(ctx context.Context, holidayID, email string, role domain.Role) error {
	email, err := domain.ValidateEmail(email)
	if err != nil {
		return err
	}
	if _, ok := domain.ParseRole(string(role)); !ok {
		return fmt.Errorf("%w: unknown role %q", domain.ErrValidation, role)
	}
	ctx, u, err := s.caller(ctx)
	if err != nil {
		return err
	}

	h, err := s.db.Get(ctx, holidayID)
	if err != nil {
		return mapErr("share holiday", err)
	}
	collabs := domain.WithCollaborator(h.Collaborators, email, role)
	shared := domain.SharedEmailsOf(collabs)
	err = s.db.Update(ctx, holidayID, docdb.Patch{
		Collaborators: &collabs,
		SharedEmails:  &shared,
		IfVersion:     h.Version,
	})
	if err != nil {
		return mapErr("share holiday", err)
	}

	s.emit(ctx, events.HolidayShared, events.CollaboratorEvent{
		HolidayEvent: s.event(holidayID, u), Email: email, Role: string(role),
	})
	return nil
}

func (s *Store) RemoveCollaborator(ctx context.Context, holidayID, email string) error {
	email, err := domain.ValidateEmail(email)
	if err != nil {
		return err
	}
	ctx, u, err := s.caller(ctx)
	if err != nil {
		return err
	}

	h, err := s.db.Get(ctx, holidayID)
	if err != nil {
		return mapErr("remove collaborator", err)
	}
	if _, ok := h.CollaboratorRole(email); !ok {
		return nil
	}
	collabs := domain.WithoutCollaborator(h.Collaborators, email)
	shared := domain.SharedEmailsOf(collabs)
	err = s.db.Update(ctx, holidayID, docdb.Patch{
		Collaborators: &collabs,
		SharedEmails:  &shared,
		IfVersion:     h.Version,
	})
	if err != nil {
		return mapErr("remove collaborator", err)
	}

	s.emit(ctx, events.HolidayCollaboratorRemoved, events.CollaboratorEvent{
		HolidayEvent: s.event(holidayID, u), Email: email,
	})
	return nil
}

// GenerateAccessCode replaces any previous code, which stops admitting guests.
func (s *Store) GenerateAccessCode(ctx context.Context, holidayID string) (string, error) {
	ctx, u, err := s.caller(ctx)
	if err != nil {
		return "", err
	}
	code, err := domain.NewAccessCode()
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrBackend, err)
	}
	if err := s.db.Update(ctx, holidayID, docdb.Patch{AccessCode: &code}); err != nil {
		return "", mapErr("generate access code", err)
	}
	s.emit(ctx, events.HolidayAccessCodeGenerated, s.event(holidayID, u))
	return code, nil
}

// caller attaches the signed-in identity for the backend rules to evaluate.
func (s *Store) caller(ctx context.Context) (context.Context, *identity.User, error) {
	s.mu.Lock()
	u := s.user
	s.mu.Unlock()
	if u == nil {
		return ctx, nil, fmt.Errorf("%w: no active session", domain.ErrNotConnected)
	}
	ctx = logger.WithPrincipal(ctx, u.ID)
	return docdb.WithCaller(ctx, callerOf(u)), u, nil
}

func (s *Store) event(holidayID string, u *identity.User) events.HolidayEvent {
	return events.HolidayEvent{HolidayID: holidayID, ActorID: u.ID, At: s.now().UTC()}
}

func (s *Store) emit(ctx context.Context, subject string, payload any) {
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		logger.WarnContext(ctx, "publish event failed", "subject", subject, "error", err)
	}
}

func callerOf(u *identity.User) docdb.Caller {
	return docdb.Caller{UID: u.ID, Email: u.Email, Anonymous: u.Anonymous}
}

func mapErr(op string, err error) error {
	var kind error
	switch {
	case errors.Is(err, docdb.ErrNotFound):
		kind = domain.ErrNotFound
	case errors.Is(err, docdb.ErrPermissionDenied):
		kind = domain.ErrPermission
	case errors.Is(err, docdb.ErrConflict):
		kind = domain.ErrConflict
	default:
		kind = domain.ErrBackend
	}
	return fmt.Errorf("%w: %s: %v", kind, op, err)
}

type alerts struct {
	mu   sync.Mutex
	fns  map[int]func(string)
	next int
}

func (a *alerts) add(fn func(string)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fns == nil {
		a.fns = make(map[int]func(string))
	}
	id := a.next
	a.next++
	a.fns[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.fns, id)
			a.mu.Unlock()
		})
	}
}

func (a *alerts) send(msg string) {
	a.mu.Lock()
	fns := make([]func(string), 0, len(a.fns))
	for _, fn := range a.fns {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

var (
	_ store.HolidayStore = (*Store)(nil)
	_ store.GuestAccess  = (*Store)(nil)
)
