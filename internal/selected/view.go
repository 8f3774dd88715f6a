// Package selected implements the per-session shadow of a mailbox at
// the last-observed moment — the "selected view" of spec §3 and §4.2 —
// along with the refresh deltas it computes for EXISTS/EXPUNGE/
// FETCH-FLAGS untagged responses. Deltas carries no recent count;
// recent ownership is read from View.Session.
package selected

import (
	"sort"

	"mailsession/internal/flag"
)

// Snapshot is the view's state at the moment of last refresh, enough
// to bound sequence numbering and to seed search.Params per spec §4.5.
type Snapshot struct {
	Exists  int
	NextUID uint32
}

// SessionFlags is the UID -> session-flag-set table described in spec
// §3. Recent is tracked as a distinguished subset: the set of UIDs
// whose Recent bit this session owns.
type SessionFlags struct {
	perUID map[uint32]flag.Set
	recent map[uint32]struct{}
}

func newSessionFlags() *SessionFlags {
	return &SessionFlags{perUID: make(map[uint32]flag.Set), recent: make(map[uint32]struct{})}
}

// AddRecent marks uid as owned-recent by this session, per the
// recent-bit transfer described in spec §4.2 and §9.
func (sf *SessionFlags) AddRecent(uid uint32) {
	sf.recent[uid] = struct{}{}
	sf.set(uid, sf.Get(uid).Add(flag.Recent))
}

// IsRecent reports whether this session owns uid's recent bit.
func (sf *SessionFlags) IsRecent(uid uint32) bool {
	_, ok := sf.recent[uid]
	return ok
}

// Get returns the session flags recorded for uid (empty if none).
func (sf *SessionFlags) Get(uid uint32) flag.Set {
	if s, ok := sf.perUID[uid]; ok {
		return s
	}
	return flag.Set{}
}

// Update applies op with the full requested flag set against uid's
// session flags. Per spec §4.5 STORE, session flags are not restricted
// by the mailbox's permitted permanent-flag set.
func (sf *SessionFlags) Update(uid uint32, flags flag.Set, op flag.Op) {
	sf.set(uid, flag.Apply(sf.Get(uid), op, flags))
}

func (sf *SessionFlags) set(uid uint32, flags flag.Set) {
	sf.perUID[uid] = flags
	if flags.Contains(flag.Recent) {
		sf.recent[uid] = struct{}{}
	} else {
		delete(sf.recent, uid)
	}
}

func (sf *SessionFlags) forget(uid uint32) {
	delete(sf.perUID, uid)
	delete(sf.recent, uid)
}

// Deltas is what changed between the view's prior map and the latest
// refresh: new EXISTS count, expunged UIDs (in ascending sequence-number
// order as observed before removal), and UIDs whose permanent flags
// changed. The codec layer turns these into untagged responses; this
// package only computes what changed, per spec §4.2.
type Deltas struct {
	Exists    int
	Expunged  []uint32
	FlagsSet  []uint32
}

// View is a session's shadow of one mailbox, per spec §3. The zero
// value is not valid; use New.
type View struct {
	Name     string
	ReadOnly bool

	UIDValidity uint64
	NextUID     uint32

	// PermanentFlags is the set of permanent flags negotiated at
	// SELECT/EXAMINE time — the mailbox's permitted permanent-flag set.
	PermanentFlags flag.Set

	Session *SessionFlags

	// viewMap is UID -> frozen permanent-flag set, as of the last
	// refresh: a UID present here implies the backend had it then.
	viewMap map[uint32]flag.Set
	// order is viewMap's UIDs in last-known sequence-number order,
	// needed to compute expunge deltas (a UID's absence implies an
	// expunge at its former sequence position).
	order []uint32

	deleted bool
	last    Snapshot
}

// New constructs a view for name, freshly selected against a mailbox
// whose permitted permanent-flag set is permFlags, with an empty
// session-flag table.
func New(name string, readOnly bool, uidValidity uint64, nextUID uint32, permFlags flag.Set) *View {
	return &View{
		Name:           name,
		ReadOnly:       readOnly,
		UIDValidity:    uidValidity,
		NextUID:        nextUID,
		PermanentFlags: permFlags,
		Session:        newSessionFlags(),
		viewMap:        make(map[uint32]flag.Set),
	}
}

// Deleted reports whether the backing mailbox disappeared (the
// tombstone state of spec §3).
func (v *View) Deleted() bool { return v.deleted }

// SetDeleted tombstones the view: the backing mailbox is gone and no
// further commands against it will succeed.
func (v *View) SetDeleted() { v.deleted = true }

// Snapshot returns the view's state as of the last refresh.
func (v *View) Snapshot() Snapshot { return v.last }

// UIDFlags returns the frozen permanent-flag set last observed for uid,
// and whether uid is currently present in the view.
func (v *View) UIDFlags(uid uint32) (flag.Set, bool) {
	s, ok := v.viewMap[uid]
	return s, ok
}

// Contains reports whether uid is present in the view as of the last
// refresh.
func (v *View) Contains(uid uint32) bool {
	_, ok := v.viewMap[uid]
	return ok
}

// SeqOf returns the 1-based message sequence number of uid as of the
// last refresh, and whether uid was present.
func (v *View) SeqOf(uid uint32) (int, bool) {
	for i, u := range v.order {
		if u == uid {
			return i + 1, true
		}
	}
	return 0, false
}

// UIDOf returns the UID at 1-based sequence number seq as of the last
// refresh.
func (v *View) UIDOf(seq int) (uint32, bool) {
	if seq < 1 || seq > len(v.order) {
		return 0, false
	}
	return v.order[seq-1], true
}

// AddMessages reconciles the view's prior map against a fresh
// (uid, permanentFlags) enumeration from the backend, in ascending UID
// order, and returns the resulting Deltas. This is the reconciliation
// step of the refresh protocol (spec §4.3): messages no longer present
// are expunges, previously-unseen UIDs raise Exists, and UIDs whose
// permanent-flag set differs are flag updates.
func (v *View) AddMessages(items []UIDFlags) Deltas {
	prev := v.viewMap
	prevOrder := v.order

	next := make(map[uint32]flag.Set, len(items))
	nextOrder := make([]uint32, 0, len(items))
	var flagsSet []uint32
	for _, it := range items {
		next[it.UID] = it.Flags
		nextOrder = append(nextOrder, it.UID)
		if old, ok := prev[it.UID]; !ok || !sameFlags(old, it.Flags) {
			if ok {
				flagsSet = append(flagsSet, it.UID)
			}
		}
	}

	var expunged []uint32
	for _, uid := range prevOrder {
		if _, ok := next[uid]; !ok {
			expunged = append(expunged, uid)
			v.Session.forget(uid)
		}
	}

	v.viewMap = next
	v.order = nextOrder
	v.last = Snapshot{Exists: len(nextOrder), NextUID: v.NextUID}

	return Deltas{
		Exists:   len(nextOrder),
		Expunged: expunged,
		FlagsSet: flagsSet,
	}
}

// UIDFlags is one (uid, permanent-flag-set) pair, the unit AddMessages
// and mailbox.Data.Items exchange.
type UIDFlags struct {
	UID   uint32
	Flags flag.Set
}

func sameFlags(a, b flag.Set) bool {
	if len(a) != len(b) {
		return false
	}
	for f := range a {
		if !b.Contains(f) {
			return false
		}
	}
	return true
}

// SortedUIDFlags is a convenience for backends whose Items() enumerates
// from a map; callers of AddMessages should present items in ascending
// UID order so Deltas.Expunged and sequence numbering are stable.
func SortedUIDFlags(m map[uint32]flag.Set) []UIDFlags {
	uids := make([]uint32, 0, len(m))
	for uid := range m {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	out := make([]UIDFlags, len(uids))
	for i, uid := range uids {
		out[i] = UIDFlags{UID: uid, Flags: m[uid]}
	}
	return out
}
