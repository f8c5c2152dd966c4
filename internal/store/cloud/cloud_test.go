package cloud

import (
	"context"
	"errors"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/diagnosis/wanderlust/internal/docdb"
	"github.com/diagnosis/wanderlust/internal/docdb/memdb"
	"github.com/diagnosis/wanderlust/internal/domain"
	"github.com/diagnosis/wanderlust/internal/identity"
	"github.com/diagnosis/wanderlust/internal/session"
)

type fakeAuth struct {
	mu   sync.Mutex
	cur  *identity.User
	fns  map[int]func(*identity.User)
	next int
}

func (f *fakeAuth) OnAuthStateChanged(fn func(*identity.User)) func() {
	f.mu.Lock()
	if f.fns == nil {
		f.fns = make(map[int]func(*identity.User))
	}
	id := f.next
	f.next++
	f.fns[id] = fn
	cur := f.cur
	f.mu.Unlock()

	fn(cur)
	return func() {
		f.mu.Lock()
		delete(f.fns, id)
		f.mu.Unlock()
	}
}

func (f *fakeAuth) SignInAnonymously(context.Context) (*identity.User, error) {
	u := &identity.User{ID: "guest-1", Anonymous: true}
	f.set(u)
	return u, nil
}

func (f *fakeAuth) set(u *identity.User) {
	f.mu.Lock()
	f.cur = u
	fns := make([]func(*identity.User), 0, len(f.fns))
	for _, fn := range f.fns {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(u)
	}
}

// recorder keeps the latest snapshot without ever blocking the store.
type recorder struct {
	mu      sync.Mutex
	latest  []domain.Holiday
	count   int
	changed chan struct{}
}

func record(s *Store) *recorder {
	r := &recorder{changed: make(chan struct{}, 1)}
	s.Subscribe(func(hs []domain.Holiday) {
		r.mu.Lock()
		r.latest = hs
		r.count++
		r.mu.Unlock()
		select {
		case r.changed <- struct{}{}:
		default:
		}
	})
	return r
}

func (r *recorder) waitFor(t *testing.T, ok func([]domain.Holiday) bool) []domain.Holiday {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		latest := r.latest
		r.mu.Unlock()
		if ok(latest) {
			return latest
		}
		select {
		case <-r.changed:
		case <-deadline:
			t.Fatalf("timed out; latest snapshot %+v", latest)
			return nil
		}
	}
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func ids(hs []domain.Holiday) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.ID)
	}
	slices.Sort(out)
	return out
}

func hasIDs(want ...string) func([]domain.Holiday) bool {
	slices.Sort(want)
	return func(hs []domain.Holiday) bool { return slices.Equal(ids(hs), want) }
}

type env struct {
	raw  *memdb.DB
	auth *fakeAuth
	sess *session.Session
	s    *Store
	rec  *recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{raw: memdb.New(), auth: &fakeAuth{}, sess: session.New()}
	e.s = New(docdb.Guard(e.raw), e.auth, e.sess)
	e.rec = record(e.s)
	t.Cleanup(e.s.Close)
	return e
}

var (
	alice = &identity.User{ID: "alice", Email: "alice@x.com"}
	bob   = &identity.User{ID: "bob", Email: "bob@x.com"}
)

func (e *env) seed(t *testing.T, h domain.Holiday) {
	t.Helper()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	h.SharedEmails = domain.SharedEmailsOf(h.Collaborators)
	if err := e.raw.Create(context.Background(), h); err != nil {
		t.Fatal(err)
	}
}

func TestMerge(t *testing.T) {
	owned := []domain.Holiday{{ID: "1", Name: "mine"}, {ID: "2", Name: "owned copy"}}
	shared := []domain.Holiday{{ID: "2", Name: "shared copy"}, {ID: "3", Name: "theirs"}}

	got := Merge(owned, shared)
	if want := []string{"1", "2", "3"}; !slices.Equal(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
	for _, h := range got {
		if h.ID == "2" && h.Name != "owned copy" {
			t.Fatalf("collision resolved to %q, want the owned copy", h.Name)
		}
	}
	if len(Merge(nil, nil)) != 0 {
		t.Fatal("merge of nothing is not empty")
	}
}

func TestNotConnected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.s.AddHoliday(ctx, "Trip"); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("AddHoliday: %v", err)
	}
	if err := e.s.DeleteHoliday(ctx, "x"); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("DeleteHoliday: %v", err)
	}
	if _, err := e.s.GenerateAccessCode(ctx, "x"); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("GenerateAccessCode: %v", err)
	}
	if e.s.Connected() {
		t.Fatal("connected without a session")
	}
}

func TestOwnedAndSharedFeedsMerge(t *testing.T) {
	e := newEnv(t)
	e.seed(t, domain.Holiday{ID: "bobs", Name: "Bob's", OwnerID: "bob",
		Collaborators: []domain.Collaborator{{Email: "alice@x.com", Role: domain.RoleEditor}}})
	e.seed(t, domain.Holiday{ID: "private", Name: "Private", OwnerID: "bob"})

	e.auth.set(alice)
	e.rec.waitFor(t, hasIDs("bobs"))

	id, err := e.s.AddHoliday(context.Background(), "Japan Trip")
	if err != nil {
		t.Fatal(err)
	}
	got := e.rec.waitFor(t, hasIDs("bobs", id))
	for _, h := range got {
		if h.ID == id && (h.OwnerID != "alice" || h.OwnerEmail != "alice@x.com") {
			t.Fatalf("owner fields = %s/%s", h.OwnerID, h.OwnerEmail)
		}
	}

	if p := e.sess.Principal(); p == nil || p.ID != "alice" || p.Guest {
		t.Fatalf("session principal = %+v", p)
	}
}

func TestSignOutCancelsFeeds(t *testing.T) {
	e := newEnv(t)
	e.seed(t, domain.Holiday{ID: "h1", Name: "Trip", OwnerID: "alice"})

	e.auth.set(alice)
	e.rec.waitFor(t, hasIDs("h1"))

	e.auth.set(nil)
	e.rec.waitFor(t, hasIDs())
	if e.sess.SignedIn() {
		t.Fatal("session not cleared")
	}

	before := e.rec.calls()
	e.seed(t, domain.Holiday{ID: "h2", Name: "Later", OwnerID: "alice"})
	time.Sleep(100 * time.Millisecond)
	if after := e.rec.calls(); after != before {
		t.Fatalf("stale feed delivered %d notifications after sign-out", after-before)
	}
	if _, err := e.s.AddHoliday(context.Background(), "x"); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("after sign-out: %v", err)
	}
}

func TestSwitchingUsers(t *testing.T) {
	e := newEnv(t)
	e.seed(t, domain.Holiday{ID: "a1", OwnerID: "alice"})
	e.seed(t, domain.Holiday{ID: "b1", OwnerID: "bob"})

	e.auth.set(alice)
	e.rec.waitFor(t, hasIDs("a1"))
	e.auth.set(bob)
	e.rec.waitFor(t, hasIDs("b1"))

	e.seed(t, domain.Holiday{ID: "a2", OwnerID: "alice"})
	time.Sleep(100 * time.Millisecond)
	if got := ids(e.s.Holidays()); !slices.Equal(got, []string{"b1"}) {
		t.Fatalf("bob sees %v", got)
	}
}

func TestGuestAccess(t *testing.T) {
	e := newEnv(t)
	e.seed(t, domain.Holiday{ID: "h1", Name: "Trip", OwnerID: "alice", AccessCode: "ABC234"})
	e.seed(t, domain.Holiday{ID: "h2", Name: "Other", OwnerID: "alice", AccessCode: "XYZ789"})

	var (
		mu     sync.Mutex
		alerts []string
	)
	e.s.Alerts(func(msg string) {
		mu.Lock()
		alerts = append(alerts, msg)
		mu.Unlock()
	})
	ctx := context.Background()

	if err := e.s.UseAccessCode(ctx, "AB1"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("malformed code: %v", err)
	}

	if err := e.s.UseAccessCode(ctx, " abc234 "); err != nil {
		t.Fatal(err)
	}
	e.rec.waitFor(t, hasIDs("h1"))
	p := e.sess.Principal()
	if p == nil || !p.Guest || p.AccessCode != "ABC234" {
		t.Fatalf("principal = %+v", p)
	}

	if err := e.s.UpdateItinerary(ctx, "h1", nil); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("guest edit: %v", err)
	}

	if err := e.s.UseAccessCode(ctx, "XYZ789"); err != nil {
		t.Fatal(err)
	}
	e.rec.waitFor(t, hasIDs("h2"))

	if err := e.s.UseAccessCode(ctx, "ZZZ999"); err != nil {
		t.Fatal(err)
	}
	e.rec.waitFor(t, hasIDs())

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		got := slices.Contains(alerts, AlertNoMatch)
		mu.Unlock()
		if got {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no alert for an unmatched code")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGuestFeedErrorAlerts(t *testing.T) {
	e := newEnv(t)
	e.seed(t, domain.Holiday{ID: "h1", OwnerID: "alice", AccessCode: "ABC234"})

	alerts := make(chan string, 4)
	e.s.Alerts(func(msg string) { alerts <- msg })

	if err := e.s.UseAccessCode(context.Background(), "ABC234"); err != nil {
		t.Fatal(err)
	}
	e.rec.waitFor(t, hasIDs("h1"))

	e.raw.Fail(docdb.FieldAccessCode, docdb.ErrPermissionDenied)
	select {
	case msg := <-alerts:
		if msg != AlertInvalidCode {
			t.Fatalf("alert = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no alert after the guest feed failed")
	}
}

func TestUseAccessCode_RejectsAccountSession(t *testing.T) {
	e := newEnv(t)
	e.auth.set(alice)
	if err := e.s.UseAccessCode(context.Background(), "ABC234"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v", err)
	}
}

func TestShareHoliday_UpsertAndInvariant(t *testing.T) {
	e := newEnv(t)
	e.seed(t, domain.Holiday{ID: "h1", OwnerID: "alice"})
	e.auth.set(alice)
	ctx := context.Background()

	if err := e.s.ShareHoliday(ctx, "h1", "A@x.com", domain.RoleEditor); err != nil {
		t.Fatal(err)
	}
	if err := e.s.ShareHoliday(ctx, "h1", "a@x.com", domain.RoleViewer); err != nil {
		t.Fatal(err)
	}
	h, _ := e.raw.Get(ctx, "h1")
	if len(h.Collaborators) != 1 || h.Collaborators[0] != (domain.Collaborator{Email: "a@x.com", Role: domain.RoleViewer}) {
		t.Fatalf("collaborators = %+v", h.Collaborators)
	}

	rng := rand.New(rand.NewSource(11))
	emails := []string{"a@x.com", "b@x.com", "C@x.com"}
	for i := 0; i < 60; i++ {
		email := emails[rng.Intn(len(emails))]
		var err error
		if rng.Intn(2) == 0 {
			err = e.s.RemoveCollaborator(ctx, "h1", email)
		} else {
			err = e.s.ShareHoliday(ctx, "h1", email, domain.RoleEditor)
		}
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		h, _ := e.raw.Get(ctx, "h1")
		keys := make([]string, 0, len(h.Collaborators))
		for _, c := range h.Collaborators {
			keys = append(keys, c.Email)
		}
		shared := slices.Clone(h.SharedEmails)
		slices.Sort(keys)
		slices.Sort(shared)
		if !slices.Equal(keys, shared) {
			t.Fatalf("step %d: collaborators %v vs sharedEmails %v", i, keys, shared)
		}
	}

	if err := e.s.ShareHoliday(ctx, "missing", "a@x.com", domain.RoleViewer); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown holiday: %v", err)
	}
}

func TestRemoveCollaborator_Idempotent(t *testing.T) {
	e := newEnv(t)
	e.seed(t, domain.Holiday{ID: "h1", OwnerID: "alice"})
	e.auth.set(alice)
	ctx := context.Background()

	before, _ := e.raw.Get(ctx, "h1")
	if err := e.s.RemoveCollaborator(ctx, "h1", "nobody@x.com"); err != nil {
		t.Fatal(err)
	}
	after, _ := e.raw.Get(ctx, "h1")
	if after.Version != before.Version {
		t.Fatal("removing an absent collaborator wrote the document")
	}
}

// racyDB lets another writer slip in between the read and the write of a
// read-modify-write.
type racyDB struct {
	docdb.DB
	raw  *memdb.DB
	once sync.Once
}

func (r *racyDB) Get(ctx context.Context, id string) (domain.Holiday, error) {
	h, err := r.DB.Get(ctx, id)
	r.once.Do(func() {
		name := "changed elsewhere"
		_ = r.raw.Update(context.Background(), id, docdb.Patch{Name: &name})
	})
	return h, err
}

func TestShareHoliday_ConflictIsReported(t *testing.T) {
	raw := memdb.New()
	auth := &fakeAuth{}
	s := New(&racyDB{DB: docdb.Guard(raw), raw: raw}, auth, session.New())
	defer s.Close()

	if err := raw.Create(context.Background(), domain.Holiday{ID: "h1", OwnerID: "alice"}); err != nil {
		t.Fatal(err)
	}
	auth.set(alice)

	err := s.ShareHoliday(context.Background(), "h1", "a@x.com", domain.RoleEditor)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	h, _ := raw.Get(context.Background(), "h1")
	if len(h.Collaborators) != 0 {
		t.Fatal("conflicting write was applied")
	}
}

func TestUpdateItinerary_RoundTrip(t *testing.T) {
	e := newEnv(t)
	e.seed(t, domain.Holiday{ID: "h1", OwnerID: "alice"})
	e.auth.set(alice)
	e.rec.waitFor(t, hasIDs("h1"))
	ctx := context.Background()

	items := []domain.ItineraryItem{
		{ID: "1", Date: "2025-04-01", Time: "09:00", Activity: "Flight"},
		{ID: "2", Date: "2025-04-01", Activity: "Hotel check-in", Location: "Shinjuku"},
	}
	for _, want := range [][]domain.ItineraryItem{items, {}} {
		if err := e.s.UpdateItinerary(ctx, "h1", want); err != nil {
			t.Fatal(err)
		}
		h, _ := e.raw.Get(ctx, "h1")
		if !slices.Equal(h.Itinerary, want) {
			t.Fatalf("itinerary = %+v, want %+v", h.Itinerary, want)
		}
	}

	if err := e.s.UpdateItinerary(ctx, "unknown", items); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown holiday: %v", err)
	}
}

func TestEditorMayEditButNotDelete(t *testing.T) {
	e := newEnv(t)
	e.seed(t, domain.Holiday{ID: "h1", OwnerID: "alice",
		Collaborators: []domain.Collaborator{{Email: "bob@x.com", Role: domain.RoleEditor}}})
	e.auth.set(bob)
	e.rec.waitFor(t, hasIDs("h1"))
	ctx := context.Background()

	items := []domain.ItineraryItem{{ID: "1", Date: "2025-04-01", Activity: "Walk"}}
	if err := e.s.UpdateItinerary(ctx, "h1", items); err != nil {
		t.Fatalf("editor update: %v", err)
	}
	if err := e.s.DeleteHoliday(ctx, "h1"); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("editor delete: %v", err)
	}
	if _, err := e.s.GenerateAccessCode(ctx, "h1"); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("editor code: %v", err)
	}
	if err := e.s.ShareHoliday(ctx, "h1", "c@x.com", domain.RoleViewer); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("editor share: %v", err)
	}
}

func TestGenerateAccessCode_OverwritesPrevious(t *testing.T) {
	e := newEnv(t)
	e.seed(t, domain.Holiday{ID: "h1", OwnerID: "alice"})
	e.auth.set(alice)
	ctx := context.Background()

	first, err := e.s.GenerateAccessCode(ctx, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if !domain.IsAccessCode(first) {
		t.Fatalf("invalid code %q", first)
	}
	second := first
	for second == first {
		if second, err = e.s.GenerateAccessCode(ctx, "h1"); err != nil {
			t.Fatal(err)
		}
	}

	results := make(chan []domain.Holiday, 4)
	guestCtx := docdb.WithCaller(ctx, docdb.Caller{UID: "g", Anonymous: true})
	cancel := docdb.Guard(e.raw).Subscribe(guestCtx, docdb.Where(docdb.FieldAccessCode, docdb.OpEqual, first),
		func(hs []domain.Holiday) { results <- hs }, nil)
	defer cancel()
	select {
	case hs := <-results:
		if len(hs) != 0 {
			t.Fatalf("old code still matches %v", ids(hs))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result for the old code")
	}
}
