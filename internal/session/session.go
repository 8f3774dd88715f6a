// Package session implements the per-connection state machine that
// serves IMAP commands against a pluggable mailbox.Set backend (spec
// §4.5): one suspending method per command, each returning a
// command-specific result plus the refreshed selected view.
package session

import (
	"context"
	"fmt"
	"time"

	"mailsession/internal/event"
	"mailsession/internal/flag"
	"mailsession/internal/mailbox"
	"mailsession/internal/search"
	"mailsession/internal/selected"
	"mailsession/internal/sequence"
)

// Session serves IMAP commands for one authenticated connection against
// mailboxes managed by Set. It owns no persistent state itself — all of
// it lives in the backend or in the *selected.View it returns to the
// caller after each command (spec §4.1, §5).
type Session struct {
	Set mailbox.Set
}

// New returns a Session backed by set.
func New(set mailbox.Set) *Session {
	return &Session{Set: set}
}

// refresh implements the update-loading protocol of spec §4.3. mbx may
// be nil when the command that produced sel did not already resolve a
// mailbox object (e.g. CREATE/DELETE/RENAME); in that case, or when mbx
// names a different mailbox than sel (SUBSCRIBE passes INBOX), the view
// is re-resolved by name.
func (s *Session) refresh(ctx context.Context, sel *selected.View, mbx mailbox.Data) (*selected.View, error) {
	if sel == nil {
		return nil, nil
	}
	if mbx == nil || mbx.Name() != sel.Name {
		var err error
		mbx, err = s.Set.GetMailbox(ctx, sel.Name, false)
		if err != nil {
			sel.SetDeleted()
			return sel, nil
		}
	}

	sel.UIDValidity = mbx.UIDValidity()
	sel.NextUID = mbx.NextUID()

	it, err := mbx.Items(ctx)
	if err != nil {
		return sel, fmt.Errorf("refresh %s: %w", sel.Name, err)
	}
	var items []selected.UIDFlags
	for {
		uf, ok, err := it.Next(ctx)
		if err != nil {
			return sel, fmt.Errorf("refresh %s: %w", sel.Name, err)
		}
		if !ok {
			break
		}
		items = append(items, uf)
	}
	sel.AddMessages(items)
	return sel, nil
}

// findSelected mirrors pymap's BaseSession._find_selected: if current
// already names mbx, reuse it; otherwise defer to mbx's own
// selected-set, since a destination mailbox for APPEND/COPY may be one
// the caller has not itself selected (spec §9, SPEC_FULL §B).
func findSelected(current *selected.View, mbx mailbox.Data) *selected.View {
	return mbx.SelectedSet().FindSelected(current, mbx.Name())
}

// ListMailboxes implements LIST/LSUB (spec §4.5).
func (s *Session) ListMailboxes(ctx context.Context, refName, filter string, subscribed bool, sel *selected.View) ([]mailbox.ListEntry, *selected.View, error) {
	var names []string
	var err error
	if subscribed {
		names, err = s.Set.ListSubscribed(ctx)
	} else {
		names, err = s.Set.ListMailboxes(ctx)
	}
	if err != nil {
		return nil, sel, fmt.Errorf("list mailboxes: %w", err)
	}
	entries := mailbox.ListMailboxes(names, s.Set.Delimiter(), refName, filter)
	refreshed, err := s.refresh(ctx, sel, nil)
	return entries, refreshed, err
}

// Select implements SELECT/EXAMINE (spec §4.5): resolves the mailbox,
// builds a fresh view, and — if opening read-write — claims ownership
// of every currently-recent message's Recent bit in one pass.
func (s *Session) Select(ctx context.Context, name string, readonly bool) (mailbox.Snapshot, *selected.View, error) {
	mbx, err := s.Set.GetMailbox(ctx, name, false)
	if err != nil {
		return mailbox.Snapshot{}, nil, fmt.Errorf("select %s: %w", name, err)
	}
	view := selected.New(name, readonly || mbx.ReadOnly(), mbx.UIDValidity(), mbx.NextUID(), mbx.PermanentFlags())

	snap, err := mbx.Snapshot(ctx)
	if err != nil {
		return mailbox.Snapshot{}, nil, fmt.Errorf("select %s: %w", name, err)
	}

	if !view.ReadOnly {
		it, err := mbx.Messages(ctx)
		if err != nil {
			return mailbox.Snapshot{}, nil, fmt.Errorf("select %s: %w", name, err)
		}
		var recentMsgs []*mailbox.Message
		for {
			msg, ok, err := it.Next(ctx)
			if err != nil {
				return mailbox.Snapshot{}, nil, fmt.Errorf("select %s: %w", name, err)
			}
			if !ok {
				break
			}
			if msg.Recent {
				msg.Recent = false
				view.Session.AddRecent(msg.UID)
				recentMsgs = append(recentMsgs, msg)
			}
		}
		if len(recentMsgs) > 0 {
			if err := mbx.SaveFlags(ctx, recentMsgs...); err != nil {
				return mailbox.Snapshot{}, nil, fmt.Errorf("select %s: %w", name, err)
			}
		}
	}

	mbx.SelectedSet().Register(view)

	refreshed, err := s.refresh(ctx, view, mbx)
	return snap, refreshed, err
}

// Close removes view from its mailbox's selected-set, e.g. on
// CLOSE/logout/reselect (spec §3 Lifecycle).
func (s *Session) Close(ctx context.Context, view *selected.View) error {
	if view == nil || view.Deleted() {
		return nil
	}
	mbx, err := s.Set.GetMailbox(ctx, view.Name, false)
	if err != nil {
		return nil
	}
	mbx.SelectedSet().Unregister(view)
	return nil
}

// CreateMailbox implements CREATE.
func (s *Session) CreateMailbox(ctx context.Context, name string, sel *selected.View) (*selected.View, error) {
	if err := s.Set.AddMailbox(ctx, name); err != nil {
		return sel, fmt.Errorf("create %s: %w", name, err)
	}
	return s.refresh(ctx, sel, nil)
}

// DeleteMailbox implements DELETE.
func (s *Session) DeleteMailbox(ctx context.Context, name string, sel *selected.View) (*selected.View, error) {
	if err := s.Set.DeleteMailbox(ctx, name); err != nil {
		return sel, fmt.Errorf("delete %s: %w", name, err)
	}
	return s.refresh(ctx, sel, nil)
}

// RenameMailbox implements RENAME.
func (s *Session) RenameMailbox(ctx context.Context, from, to string, sel *selected.View) (*selected.View, error) {
	if err := s.Set.RenameMailbox(ctx, from, to); err != nil {
		return sel, fmt.Errorf("rename %s to %s: %w", from, to, err)
	}
	return s.refresh(ctx, sel, nil)
}

// Subscribe implements SUBSCRIBE. It resolves INBOX before delegating
// to the backend; see DESIGN.md for why this odd-looking step is
// preserved from the original implementation.
func (s *Session) Subscribe(ctx context.Context, name string, sel *selected.View) (*selected.View, error) {
	mbx, err := s.Set.GetMailbox(ctx, "INBOX", false)
	if err != nil {
		return sel, fmt.Errorf("subscribe %s: %w", name, err)
	}
	if err := s.Set.SetSubscribed(ctx, name, true); err != nil {
		return sel, fmt.Errorf("subscribe %s: %w", name, err)
	}
	return s.refresh(ctx, sel, mbx)
}

// Unsubscribe implements UNSUBSCRIBE, mirroring Subscribe's INBOX
// resolution step.
func (s *Session) Unsubscribe(ctx context.Context, name string, sel *selected.View) (*selected.View, error) {
	mbx, err := s.Set.GetMailbox(ctx, "INBOX", false)
	if err != nil {
		return sel, fmt.Errorf("unsubscribe %s: %w", name, err)
	}
	if err := s.Set.SetSubscribed(ctx, name, false); err != nil {
		return sel, fmt.Errorf("unsubscribe %s: %w", name, err)
	}
	return s.refresh(ctx, sel, mbx)
}

// Check implements the wait/notify primitive behind NOOP and IDLE (spec
// §4.4): optionally runs backend housekeeping, optionally waits up to
// 10 seconds for either waitOn or the mailbox's own update event,
// swallowing a timeout, then refreshes unconditionally.
func (s *Session) Check(ctx context.Context, sel *selected.View, waitOn *event.Event, housekeeping bool) (*selected.View, error) {
	if sel == nil || sel.Deleted() {
		return sel, nil
	}
	mbx, err := s.Set.GetMailbox(ctx, sel.Name, false)
	if err != nil {
		sel.SetDeleted()
		return sel, nil
	}
	if housekeeping {
		if err := mbx.Cleanup(ctx); err != nil {
			return sel, fmt.Errorf("cleanup %s: %w", sel.Name, err)
		}
	}
	if waitOn != nil {
		timeoutCtx, cancelTimeout := context.WithTimeout(ctx, 10*time.Second)
		waitCtx, cancel := event.Or(timeoutCtx, waitOn, mbx.SelectedSet().Updated)
		<-waitCtx.Done()
		cancel()
		cancelTimeout()
	}
	return s.refresh(ctx, sel, mbx)
}

// AppendUID is the UIDPLUS APPENDUID response code (spec §4.5).
type AppendUID struct {
	UIDValidity uint64
	UIDs        []uint32
}

// Append implements APPEND (spec §4.5): each message is parsed, then
// added with the stored Recent bit set iff no live view of the target
// exists; otherwise a live view claims ownership of the bit instead.
func (s *Session) Append(ctx context.Context, name string, messages []mailbox.AppendMessage, sel *selected.View) (AppendUID, *selected.View, error) {
	mbx, err := s.Set.GetMailbox(ctx, name, true)
	if err != nil {
		return AppendUID{}, sel, fmt.Errorf("append %s: %w", name, err)
	}
	if mbx.ReadOnly() {
		return AppendUID{}, sel, fmt.Errorf("append %s: %w", name, mailbox.ErrReadOnly)
	}
	dest := findSelected(sel, mbx)

	var uids []uint32
	for _, am := range messages {
		parsed, err := mbx.ParseMessage(ctx, am)
		if err != nil {
			return AppendUID{}, sel, fmt.Errorf("append %s: %w", name, err)
		}
		stored, err := mbx.Add(ctx, parsed, dest == nil)
		if err != nil {
			return AppendUID{}, sel, fmt.Errorf("append %s: %w", name, err)
		}
		if dest != nil {
			dest.Session.AddRecent(stored.UID)
		}
		uids = append(uids, stored.UID)
	}
	mbx.SelectedSet().Updated.Set()

	refreshed, err := s.refresh(ctx, sel, mbx)
	return AppendUID{UIDValidity: mbx.UIDValidity(), UIDs: uids}, refreshed, err
}

// Fetch implements FETCH (spec §4.5): resolves sequence_set against the
// view, optionally marking \Seen on each hit when the caller requested
// setSeen semantics against a writable view.
func (s *Session) Fetch(ctx context.Context, sel *selected.View, seqSet sequence.Set, setSeen bool) ([]mailbox.FindHit, *selected.View, error) {
	mbx, err := s.Set.GetMailbox(ctx, sel.Name, false)
	if err != nil {
		return nil, sel, fmt.Errorf("fetch %s: %w", sel.Name, err)
	}
	hits, err := collectFind(ctx, mbx, seqSet, sel)
	if err != nil {
		return nil, sel, fmt.Errorf("fetch %s: %w", sel.Name, err)
	}
	var results []mailbox.FindHit
	var toSave []*mailbox.Message
	for _, h := range hits {
		if h.Message == nil {
			continue
		}
		results = append(results, h)
		if setSeen && !sel.ReadOnly {
			h.Message.PermanentFlags = h.Message.PermanentFlags.Add(flag.Seen)
			toSave = append(toSave, h.Message)
		}
	}
	if len(toSave) > 0 {
		if err := mbx.SaveFlags(ctx, toSave...); err != nil {
			return nil, sel, fmt.Errorf("fetch %s: %w", sel.Name, err)
		}
	}
	refreshed, err := s.refresh(ctx, sel, mbx)
	return results, refreshed, err
}

// Search implements SEARCH (spec §4.5, §4.7): streams messages in
// sequence order and evaluates key against each, performing no flag
// mutation.
func (s *Session) Search(ctx context.Context, sel *selected.View, key search.Key) ([]int, *selected.View, error) {
	mbx, err := s.Set.GetMailbox(ctx, sel.Name, false)
	if err != nil {
		return nil, sel, fmt.Errorf("search %s: %w", sel.Name, err)
	}
	params := search.NewParams(sel)

	it, err := mbx.Messages(ctx)
	if err != nil {
		return nil, sel, fmt.Errorf("search %s: %w", sel.Name, err)
	}
	var matches []int
	seq := 0
	for {
		msg, ok, err := it.Next(ctx)
		if err != nil {
			return nil, sel, fmt.Errorf("search %s: %w", sel.Name, err)
		}
		if !ok {
			break
		}
		seq++
		loaded := &mailbox.LoadedMessage{Message: msg}
		if req := key.Requirement(); req > search.RequireNone {
			content, err := mbx.LoadContent(ctx, msg, contentLevel(req))
			if err != nil {
				return nil, sel, fmt.Errorf("search %s: %w", sel.Name, err)
			}
			loaded.Content = content
		}
		if search.Matches(key, seq, loaded, params) {
			matches = append(matches, seq)
		}
	}
	refreshed, err := s.refresh(ctx, sel, mbx)
	return matches, refreshed, err
}

// Expunge implements EXPUNGE (spec §4.5): the default uid-set is every
// UID; messages carrying \Deleted are removed in one backend call.
func (s *Session) Expunge(ctx context.Context, sel *selected.View, uidSet *sequence.Set) (*selected.View, error) {
	if sel.ReadOnly {
		return sel, fmt.Errorf("expunge %s: %w", sel.Name, mailbox.ErrReadOnly)
	}
	mbx, err := s.Set.GetMailbox(ctx, sel.Name, false)
	if err != nil {
		return sel, fmt.Errorf("expunge %s: %w", sel.Name, err)
	}
	set := sequence.All(true)
	if uidSet != nil {
		set = *uidSet
	}
	hits, err := collectFind(ctx, mbx, set, sel)
	if err != nil {
		return sel, fmt.Errorf("expunge %s: %w", sel.Name, err)
	}
	var toDelete []uint32
	for _, h := range hits {
		if h.Message != nil && h.Message.PermanentFlags.Contains(flag.Deleted) {
			toDelete = append(toDelete, h.UID)
		}
	}
	if err := mbx.Delete(ctx, toDelete...); err != nil {
		return sel, fmt.Errorf("expunge %s: %w", sel.Name, err)
	}
	mbx.SelectedSet().Updated.Set()
	return s.refresh(ctx, sel, mbx)
}

// CopyUID is the UIDPLUS COPYUID response code (spec §4.5).
type CopyUID struct {
	UIDValidity uint64
	Pairs       [][2]uint32 // (source UID, dest UID)
}

// Copy implements COPY (spec §4.5).
func (s *Session) Copy(ctx context.Context, sel *selected.View, seqSet sequence.Set, destName string) (CopyUID, *selected.View, error) {
	mbx, err := s.Set.GetMailbox(ctx, sel.Name, false)
	if err != nil {
		return CopyUID{}, sel, fmt.Errorf("copy %s: %w", sel.Name, err)
	}
	dest, err := s.Set.GetMailbox(ctx, destName, true)
	if err != nil {
		return CopyUID{}, sel, fmt.Errorf("copy to %s: %w", destName, err)
	}
	if dest.ReadOnly() {
		return CopyUID{}, sel, fmt.Errorf("copy to %s: %w", destName, mailbox.ErrReadOnly)
	}
	destSelected := findSelected(sel, dest)

	hits, err := collectFind(ctx, mbx, seqSet, sel)
	if err != nil {
		return CopyUID{}, sel, fmt.Errorf("copy %s: %w", sel.Name, err)
	}
	var pairs [][2]uint32
	for _, h := range hits {
		if h.Message == nil {
			continue
		}
		stored, err := dest.Add(ctx, h.Message, destSelected == nil)
		if err != nil {
			return CopyUID{}, sel, fmt.Errorf("copy %s: %w", sel.Name, err)
		}
		if destSelected != nil {
			destSelected.Session.AddRecent(stored.UID)
		}
		pairs = append(pairs, [2]uint32{h.UID, stored.UID})
	}
	dest.SelectedSet().Updated.Set()

	refreshed, err := s.refresh(ctx, sel, mbx)
	return CopyUID{UIDValidity: dest.UIDValidity(), Pairs: pairs}, refreshed, err
}

// StoreResult is one (seq, uid, effectiveFlags) row of a STORE reply.
type StoreResult struct {
	Seq   int
	UID   uint32
	Flags flag.Set
}

// Store implements STORE (spec §4.5): permanent flags are mutated only
// for the subset of the requested flags the mailbox permits; session
// flags are updated with the full requested set regardless.
func (s *Session) Store(ctx context.Context, sel *selected.View, seqSet sequence.Set, flags flag.Set, op flag.Op) ([]StoreResult, *selected.View, error) {
	if sel.ReadOnly {
		return nil, sel, fmt.Errorf("store %s: %w", sel.Name, mailbox.ErrReadOnly)
	}
	mbx, err := s.Set.GetMailbox(ctx, sel.Name, false)
	if err != nil {
		return nil, sel, fmt.Errorf("store %s: %w", sel.Name, err)
	}
	permitted := sel.PermanentFlags.Intersect(flags)

	hits, err := collectFind(ctx, mbx, seqSet, sel)
	if err != nil {
		return nil, sel, fmt.Errorf("store %s: %w", sel.Name, err)
	}
	var results []StoreResult
	var toSave []*mailbox.Message
	for _, h := range hits {
		if h.Message == nil {
			results = append(results, StoreResult{Seq: h.Seq, UID: h.UID, Flags: flag.Set{}})
			continue
		}
		h.Message.PermanentFlags = flag.Apply(h.Message.PermanentFlags, op, permitted)
		sel.Session.Update(h.UID, flags, op)
		toSave = append(toSave, h.Message)
		results = append(results, StoreResult{Seq: h.Seq, UID: h.UID, Flags: h.Message.GetFlags(sel)})
	}
	if err := mbx.SaveFlags(ctx, toSave...); err != nil {
		return nil, sel, fmt.Errorf("store %s: %w", sel.Name, err)
	}
	mbx.SelectedSet().Updated.Set()
	refreshed, err := s.refresh(ctx, sel, mbx)
	return results, refreshed, err
}

func collectFind(ctx context.Context, mbx mailbox.Data, seqSet sequence.Set, view *selected.View) ([]mailbox.FindHit, error) {
	it, err := mbx.Find(ctx, seqSet, view)
	if err != nil {
		return nil, err
	}
	var hits []mailbox.FindHit
	for {
		hit, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// contentLevel maps a search.Requirement to the mailbox.ContentLevel
// LoadContent needs, the minimum translation keeping mailbox from
// depending on the search package.
func contentLevel(req search.Requirement) mailbox.ContentLevel {
	switch req {
	case search.RequireBody:
		return mailbox.ContentBody
	case search.RequireHeaders:
		return mailbox.ContentHeaders
	case search.RequireMetadata:
		return mailbox.ContentMetadata
	default:
		return mailbox.ContentNone
	}
}
