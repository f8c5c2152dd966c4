package docdb

import (
	"sync"

	"github.com/diagnosis/wanderlust/internal/domain"
)

// Feed serializes the callbacks of one subscription and silences them for good once
// it is closed or has failed.
type Feed struct {
	mu     sync.Mutex
	closed bool
	onNext func([]domain.Holiday)
	onErr  func(error)
}

func NewFeed(onNext func([]domain.Holiday), onErr func(error)) *Feed {
	return &Feed{onNext: onNext, onErr: onErr}
}

// Next delivers a result set. It reports false when the feed no longer delivers.
func (f *Feed) Next(hs []domain.Holiday) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	if f.onNext != nil {
		f.onNext(hs)
	}
	return true
}

// Fail delivers err and closes the feed.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if f.onErr != nil {
		f.onErr(err)
	}
}

// Close blocks until any in-flight callback has returned.
func (f *Feed) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *Feed) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
