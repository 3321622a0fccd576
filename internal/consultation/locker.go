package consultation

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"diagnostic-assistant/internal/platform/apperr"
)

// keyedLocker serializes work per consultation id. Entries are reference
// counted and dropped once no goroutine holds or waits on them, so the map
// only grows with in-flight consultations.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[uuid.UUID]*keyedLock)}
}

// Lock blocks until the lock for id is held or ctx is done, in which case it
// returns an apperr.Busy wrapping ctx.Err(). The returned func releases the
// lock and must be called exactly once.
func (l *keyedLocker) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
		return func() {
			<-lk.ch
			l.release(id, lk)
		}, nil
	case <-ctx.Done():
		l.release(id, lk)
		return nil, apperr.Busy("consultation is busy with another request, try again", ctx.Err())
	}
}

func (l *keyedLocker) release(id uuid.UUID, lk *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
}
