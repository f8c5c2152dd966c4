// Package memory is an in-process account directory for local runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diagnosis/wanderlust/internal/repo"
)

type UsersRepo struct {
	mu      sync.RWMutex
	byID    map[string]*repo.User
	byEmail map[string]string
}

func NewUsersRepo() *UsersRepo {
	return &UsersRepo{
		byID:    make(map[string]*repo.User),
		byEmail: make(map[string]string),
	}
}

func (r *UsersRepo) Create(_ context.Context, email, hash, name string) (*repo.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[email]; ok {
		return nil, repo.ErrEmailTaken
	}
	u := &repo.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		CreatedAt:    time.Now().UTC(),
	}
	r.byID[u.ID] = u
	r.byEmail[email] = u.ID
	cp := *u
	return &cp, nil
}

func (r *UsersRepo) FindByEmail(ctx context.Context, email string) (*repo.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return nil, repo.ErrUserNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *UsersRepo) FindByID(_ context.Context, id string) (*repo.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, repo.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

var _ repo.UsersRepo = (*UsersRepo)(nil)
