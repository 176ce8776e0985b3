package session

import (
	"sync"

	"github.com/sakif/qanda/internal/model"
)

// Watchers fans auth-state changes out to the code that asked to hear about
// them (the SSE stream, mostly).
//
// A watcher is registered for one session (user ID + token ID). A profile
// change is delivered to every session of the user; a logout only to the
// session that logged out. A nil principal means "signed out".
type Watchers struct {
	mu     sync.Mutex
	nextID int
	byUser map[string]map[int]watcher
}

type watcher struct {
	tokenID string
	fn      func(*model.Principal)
}

// NewWatchers creates an empty registry.
func NewWatchers() *Watchers {
	return &Watchers{byUser: make(map[string]map[int]watcher)}
}

// Watch registers fn for the session and returns a function that removes it.
// Calling the returned function more than once is safe.
func (w *Watchers) Watch(userID, tokenID string, fn func(*model.Principal)) (cancel func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID
	w.nextID++
	if w.byUser[userID] == nil {
		w.byUser[userID] = make(map[int]watcher)
	}
	w.byUser[userID][id] = watcher{tokenID: tokenID, fn: fn}

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.byUser[userID], id)
			if len(w.byUser[userID]) == 0 {
				delete(w.byUser, userID)
			}
		})
	}
}

// Changed tells every session of p.ID about its new attributes.
func (w *Watchers) Changed(p *model.Principal) {
	for _, fn := range w.collect(p.ID, "") {
		fn(p)
	}
}

// SignedOut tells the one session identified by tokenID that it has ended.
func (w *Watchers) SignedOut(userID, tokenID string) {
	for _, fn := range w.collect(userID, tokenID) {
		fn(nil)
	}
}

// collect copies the matching callbacks so they run without the lock held;
// a callback may itself call cancel. An empty tokenID matches all sessions.
func (w *Watchers) collect(userID, tokenID string) []func(*model.Principal) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var fns []func(*model.Principal)
	for _, wt := range w.byUser[userID] {
		if tokenID == "" || wt.tokenID == tokenID {
			fns = append(fns, wt.fn)
		}
	}
	return fns
}
