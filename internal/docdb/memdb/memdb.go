// Package memdb is an in-process docdb.DB. Every subscription runs its own goroutine
// that re-evaluates the query whenever a write lands.
package memdb

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/diagnosis/wanderlust/internal/docdb"
	"github.com/diagnosis/wanderlust/internal/domain"
)

type DB struct {
	mu     sync.RWMutex
	docs   map[string]domain.Holiday
	subs   map[int]*subscription
	nextID int
}

type subscription struct {
	q    docdb.Query
	feed *docdb.Feed
	wake chan struct{}
	stop chan struct{}
}

func New() *DB {
	return &DB{
		docs: make(map[string]domain.Holiday),
		subs: make(map[int]*subscription),
	}
}

func (db *DB) Create(_ context.Context, h domain.Holiday) error {
	db.mu.Lock()
	if _, ok := db.docs[h.ID]; ok {
		db.mu.Unlock()
		return fmt.Errorf("create %s: %w", h.ID, docdb.ErrExists)
	}
	h = h.Clone()
	h.Version = 1
	db.docs[h.ID] = h
	db.mu.Unlock()

	db.broadcast()
	return nil
}

func (db *DB) Get(_ context.Context, id string) (domain.Holiday, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	h, ok := db.docs[id]
	if !ok {
		return domain.Holiday{}, fmt.Errorf("get %s: %w", id, docdb.ErrNotFound)
	}
	return h.Clone(), nil
}

func (db *DB) Update(_ context.Context, id string, p docdb.Patch) error {
	db.mu.Lock()
	h, ok := db.docs[id]
	if !ok {
		db.mu.Unlock()
		return fmt.Errorf("update %s: %w", id, docdb.ErrNotFound)
	}
	if p.IfVersion != 0 && h.Version != p.IfVersion {
		db.mu.Unlock()
		return fmt.Errorf("update %s at version %d (stored %d): %w", id, p.IfVersion, h.Version, docdb.ErrConflict)
	}
	h = h.Clone()
	p.Apply(&h)
	db.docs[id] = h
	db.mu.Unlock()

	db.broadcast()
	return nil
}

func (db *DB) Delete(_ context.Context, id string) error {
	db.mu.Lock()
	_, ok := db.docs[id]
	delete(db.docs, id)
	db.mu.Unlock()

	if ok {
		db.broadcast()
	}
	return nil
}

func (db *DB) Subscribe(_ context.Context, q docdb.Query, onNext func([]domain.Holiday), onErr func(error)) func() {
	sub := &subscription{
		q:    q,
		feed: docdb.NewFeed(onNext, onErr),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	sub.wake <- struct{}{}

	db.mu.Lock()
	id := db.nextID
	db.nextID++
	db.subs[id] = sub
	db.mu.Unlock()

	go db.run(sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.feed.Close()
			close(sub.stop)
			db.mu.Lock()
			delete(db.subs, id)
			db.mu.Unlock()
		})
	}
}

// Fail terminates every live subscription on field with err, the way a backend
// revokes a listener whose rules stopped matching.
func (db *DB) Fail(field docdb.Field, err error) {
	db.mu.RLock()
	var hit []*subscription
	for _, s := range db.subs {
		if s.q.Field == field {
			hit = append(hit, s)
		}
	}
	db.mu.RUnlock()

	for _, s := range hit {
		s.feed.Fail(err)
	}
}

// Len reports the number of stored documents.
func (db *DB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.docs)
}

func (db *DB) run(s *subscription) {
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
		if !s.feed.Next(db.query(s.q)) {
			return
		}
	}
}

func (db *DB) query(q docdb.Query) []domain.Holiday {
	db.mu.RLock()
	out := make([]domain.Holiday, 0)
	for _, h := range db.docs {
		if q.Matches(h) {
			out = append(out, h.Clone())
		}
	}
	db.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Holiday) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return out
}

func (db *DB) broadcast() {
	db.mu.RLock()
	defer db.mu.RUnlock()
	for _, s := range db.subs {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

var _ docdb.DB = (*DB)(nil)
