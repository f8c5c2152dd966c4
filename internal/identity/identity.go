// Package identity signs principals in and out and tells listeners about every
// transition. One user is current at a time.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"

	"github.com/diagnosis/wanderlust/internal/domain"
	"github.com/diagnosis/wanderlust/internal/repo"
	"github.com/diagnosis/wanderlust/internal/utils"
	"github.com/diagnosis/wanderlust/pkg/auth"
	"github.com/diagnosis/wanderlust/pkg/logger"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Anonymous bool   `json:"anonymous"`
	// Token is the bearer token issued at sign-in.
	Token string `json:"-"`
}

type Config struct {
	JWTSecret         string
	SessionTTL        time.Duration
	GuestSessionTTL   time.Duration
	MinPasswordLength int
}

type Provider struct {
	users repo.UsersRepo
	cfg   Config

	// deliver serializes transitions so listeners see them in order.
	deliver sync.Mutex

	mu        sync.RWMutex
	current   *User
	listeners map[int]func(*User)
	next      int
}

func NewProvider(users repo.UsersRepo, cfg Config) *Provider {
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = 6
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.GuestSessionTTL <= 0 {
		cfg.GuestSessionTTL = 24 * time.Hour
	}
	return &Provider{
		users:     users,
		cfg:       cfg,
		listeners: make(map[int]func(*User)),
	}
}

func (p *Provider) SignUp(ctx context.Context, email, password, name string) (*User, error) {
	email, err := domain.ValidateEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < p.cfg.MinPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", domain.ErrValidation, p.cfg.MinPasswordLength)
	}

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u, err := p.users.Create(ctx, email, hash, utils.NormalizeString(name))
	if errors.Is(err, repo.ErrEmailTaken) {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, ErrEmailTaken)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: create account: %v", domain.ErrBackend, err)
	}

	logger.InfoContext(ctx, "account created", "user_id", u.ID)
	return p.signIn(ctx, u)
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (*User, error) {
	email = utils.NormalizeEmail(email)
	u, err := p.users.FindByEmail(ctx, email)
	if errors.Is(err, repo.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find account: %v", domain.ErrBackend, err)
	}

	ok, err := argon2id.ComparePasswordAndHash(password, u.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}
	return p.signIn(ctx, u)
}

// SignInAnonymously starts a guest session. An existing guest session is kept.
func (p *Provider) SignInAnonymously(ctx context.Context) (*User, error) {
	if cur := p.CurrentUser(); cur != nil && cur.Anonymous {
		return cur, nil
	}
	id := uuid.NewString()
	tok, err := auth.NewGuestSession(id, "", p.cfg.JWTSecret, p.cfg.GuestSessionTTL)
	if err != nil {
		return nil, fmt.Errorf("issue guest token: %w", err)
	}
	u := &User{ID: id, Anonymous: true, Token: tok}
	p.transition(u)
	logger.InfoContext(ctx, "guest signed in", "user_id", id)
	return cloneUser(u), nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	if p.CurrentUser() == nil {
		return nil
	}
	p.transition(nil)
	logger.InfoContext(ctx, "signed out")
	return nil
}

func (p *Provider) CurrentUser() *User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return cloneUser(p.current)
}

// Verify checks that token was issued for the current user.
func (p *Provider) Verify(token string) (*User, error) {
	claims, err := auth.Parse(token, p.cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	cur := p.CurrentUser()
	if cur == nil || cur.ID != claims.Sub {
		return nil, fmt.Errorf("%w: session is no longer active", ErrInvalidCredentials)
	}
	return cur, nil
}

// OnAuthStateChanged calls fn with the current user, nil when signed out, and again
// on every transition.
func (p *Provider) OnAuthStateChanged(fn func(*User)) (unsubscribe func()) {
	p.deliver.Lock()
	defer p.deliver.Unlock()

	p.mu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = fn
	cur := cloneUser(p.current)
	p.mu.Unlock()

	fn(cur)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) signIn(ctx context.Context, u *repo.User) (*User, error) {
	tok, err := auth.NewSessionToken(u.ID, u.Email, p.cfg.JWTSecret, p.cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("issue session token: %w", err)
	}
	out := &User{ID: u.ID, Email: u.Email, Name: u.Name, Token: tok}
	p.transition(out)
	logger.InfoContext(ctx, "signed in", "user_id", u.ID)
	return cloneUser(out), nil
}

func (p *Provider) transition(u *User) {
	p.deliver.Lock()
	defer p.deliver.Unlock()

	p.mu.Lock()
	p.current = cloneUser(u)
	fns := make([]func(*User), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(cloneUser(u))
	}
}

func cloneUser(u *User) *User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}
