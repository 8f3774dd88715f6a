package selected

import (
	"sync"

	"mailsession/internal/event"
)

// Set is the registry of every live View open against one mailbox —
// the "selected-set" of spec §3, §5 and §9. It hosts the mailbox's
// update event and answers "is anyone selected" for recent-bit
// ownership decisions on APPEND/COPY (spec §4.5, §9).
//
// Mutation of a single View's own maps is confined to that view's
// owning session; mutation of the Set itself (Register/Unregister) must
// be safe against concurrent registrations, so it is guarded here with
// a mutex even though each session otherwise runs single-threaded.
type Set struct {
	mu      sync.Mutex
	views   map[*View]struct{}
	Updated *event.Event
}

// NewSet returns an empty selected-set with a fresh update event.
func NewSet() *Set {
	return &Set{views: make(map[*View]struct{}), Updated: event.New()}
}

// Register adds v to the set, e.g. when a session completes SELECT.
func (s *Set) Register(v *View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[v] = struct{}{}
}

// Unregister removes v from the set, e.g. on CLOSE/logout/reselect.
func (s *Set) Unregister(v *View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, v)
}

// AnySelected returns an arbitrary live view over this mailbox, or nil
// if none is currently selected. This is the "any-selected" query of
// spec §4.1/§9, consulted to decide whether an appended/copied message
// gets the stored Recent bit or has it claimed by a live view.
func (s *Set) AnySelected() *View {
	s.mu.Lock()
	defer s.mu.Unlock()
	for v := range s.views {
		return v
	}
	return nil
}

// FindSelected returns current if it already names this mailbox,
// otherwise falls back to AnySelected. This mirrors pymap's
// BaseSession._find_selected: COPY and APPEND must consult the
// destination mailbox's own selected-set, not just the invoking
// session's current view, since the destination may be a different
// mailbox entirely.
func (s *Set) FindSelected(current *View, mailboxName string) *View {
	if current != nil && current.Name == mailboxName {
		return current
	}
	return s.AnySelected()
}
