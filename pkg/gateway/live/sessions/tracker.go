// Package sessions tracks live relay sessions so the server can drain and
// cancel them on shutdown.
package sessions

import (
	"context"
	"sync"
)

// Handle is what the tracker can do to a running session.
type Handle struct {
	// Cancel ends the session immediately.
	Cancel func()
	// Drain asks the session to end at its next turn boundary.
	Drain func()
}

type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*trackedSession),
	}
}

// Register adds a session. Registering an ID twice replaces the older entry.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*trackedSession)
	}
	old := t.sessions[sessionID]
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions != nil && t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// DrainAll asks every session to finish its current turn and end.
func (t *Tracker) DrainAll() (drained int) {
	for _, drain := range t.collect(func(h Handle) func() { return h.Drain }) {
		drain()
		drained++
	}
	return drained
}

// CancelAll ends every session immediately.
func (t *Tracker) CancelAll() (canceled int) {
	for _, cancel := range t.collect(func(h Handle) func() { return h.Cancel }) {
		cancel()
		canceled++
	}
	return canceled
}

// collect snapshots one callback per session so they run without the lock.
func (t *Tracker) collect(pick func(Handle) func()) []func() {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fns := make([]func(), 0, len(t.sessions))
	for _, entry := range t.sessions {
		if entry == nil {
			continue
		}
		if fn := pick(entry.handle); fn != nil {
			fns = append(fns, fn)
		}
	}
	return fns
}

// Wait blocks until every registered session has unregistered or ctx is done.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
