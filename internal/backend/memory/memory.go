// Package memory implements an in-memory mailbox.Set, the fake backend
// this module's own tests drive instead of a real store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mailsession/internal/flag"
	"mailsession/internal/mailbox"
	"mailsession/internal/selected"
	"mailsession/internal/sequence"
)

// Set is a process-local mailbox.Set: every mailbox and message lives
// in memory, guarded by a mutex since backend mutation of shared state
// must be safe against concurrent registrations (spec §5).
type Set struct {
	mu         sync.Mutex
	delimiter  string
	mailboxes  map[string]*Data
	subscribed map[string]bool
}

// NewSet returns an empty Set with the given hierarchy delimiter,
// pre-seeded with an empty INBOX: every account always has one.
func NewSet(delimiter string) *Set {
	s := &Set{
		delimiter:  delimiter,
		mailboxes:  make(map[string]*Data),
		subscribed: make(map[string]bool),
	}
	s.mailboxes["INBOX"] = newData("INBOX", s)
	return s
}

func (s *Set) Delimiter() string { return s.delimiter }

func (s *Set) GetMailbox(ctx context.Context, name string, tryCreate bool) (mailbox.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mbx, ok := s.mailboxes[name]; ok {
		return mbx, nil
	}
	if !tryCreate {
		return nil, fmt.Errorf("%s: %w", name, mailbox.ErrNotFound)
	}
	mbx := newData(name, s)
	s.mailboxes[name] = mbx
	return mbx, nil
}

func (s *Set) ListMailboxes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.mailboxes))
	for n := range s.mailboxes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Set) ListSubscribed(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for n, sub := range s.subscribed {
		if sub {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *Set) AddMailbox(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mailboxes[name]; ok {
		return fmt.Errorf("%s: already exists", name)
	}
	s.mailboxes[name] = newData(name, s)
	return nil
}

func (s *Set) DeleteMailbox(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.mailboxes[name]; !ok {
		return fmt.Errorf("%s: %w", name, mailbox.ErrNotFound)
	}
	delete(s.mailboxes, name)
	delete(s.subscribed, name)
	return nil
}

func (s *Set) RenameMailbox(ctx context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mbx, ok := s.mailboxes[from]
	if !ok {
		return fmt.Errorf("%s: %w", from, mailbox.ErrNotFound)
	}
	if _, ok := s.mailboxes[to]; ok {
		return fmt.Errorf("%s: already exists", to)
	}
	mbx.name = to
	// Renaming loses UID identity for the moved mailbox (spec §3:
	// UID-validity changes iff messages lose UID identity).
	mbx.uidValidity++
	delete(s.mailboxes, from)
	s.mailboxes[to] = mbx
	return nil
}

func (s *Set) SetSubscribed(ctx context.Context, name string, subscribed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed[name] = subscribed
	return nil
}

// Data is one in-memory mailbox.
type Data struct {
	mu          sync.Mutex
	name        string
	set         *Set
	uidValidity uint64
	nextUID     uint32
	readonly    bool
	permFlags   flag.Set
	sessFlags   flag.Set
	selSet      *selected.Set
	messages    []*mailbox.Message // ascending UID order
}

func newData(name string, set *Set) *Data {
	return &Data{
		name:        name,
		set:         set,
		uidValidity: uint64(time.Now().UnixNano()),
		nextUID:     1,
		permFlags:   flag.NewSet(flag.Answered, flag.Flagged, flag.Deleted, flag.Seen, flag.Draft),
		sessFlags:   flag.NewSet(flag.Recent),
		selSet:      selected.NewSet(),
	}
}

func (d *Data) Name() string              { return d.name }
func (d *Data) UIDValidity() uint64       { return d.uidValidity }
func (d *Data) NextUID() uint32           { return d.nextUID }
func (d *Data) ReadOnly() bool            { return d.readonly }
func (d *Data) PermanentFlags() flag.Set  { return d.permFlags }
func (d *Data) SessionFlags() flag.Set    { return d.sessFlags }
func (d *Data) SelectedSet() *selected.Set { return d.selSet }

func (d *Data) Snapshot(ctx context.Context) (mailbox.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	recent := 0
	for _, m := range d.messages {
		if m.Recent {
			recent++
		}
	}
	return mailbox.Snapshot{
		Exists:      len(d.messages),
		Recent:      recent,
		UIDValidity: d.uidValidity,
		NextUID:     d.nextUID,
	}, nil
}

func (d *Data) Messages(ctx context.Context) (mailbox.MessageIter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := append([]*mailbox.Message(nil), d.messages...)
	return &sliceMessageIter{msgs: cp}, nil
}

func (d *Data) Items(ctx context.Context) (mailbox.ItemIter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	items := make([]selected.UIDFlags, len(d.messages))
	for i, m := range d.messages {
		items[i] = selected.UIDFlags{UID: m.UID, Flags: m.PermanentFlags.Clone()}
	}
	return &sliceItemIter{items: items}, nil
}

func (d *Data) Find(ctx context.Context, seqSet sequence.Set, view *selected.View) (mailbox.FindIter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	maxSeq := uint32(len(d.messages))
	maxUID := uint32(0)
	if d.nextUID > 0 {
		maxUID = d.nextUID - 1
	}

	var hits []mailbox.FindHit
	if seqSet.UID {
		for _, n := range seqSet.Numbers(maxUID) {
			msg := d.findByUID(n)
			seq := 0
			if view != nil {
				if sq, ok := view.SeqOf(n); ok {
					seq = sq
				}
			} else if msg != nil {
				seq = d.seqOfLive(msg.UID)
			}
			hits = append(hits, mailbox.FindHit{Seq: seq, UID: n, Message: msg})
		}
	} else {
		// Sequence numbers address the mailbox as of view's last
		// refresh, not its current live numbering, so a seq-set is
		// resolved against view.UIDOf first when a view is given.
		viewMax := maxSeq
		if view != nil {
			viewMax = uint32(view.Snapshot().Exists)
		}
		for _, n := range seqSet.Numbers(viewMax) {
			uid := uint32(0)
			var msg *mailbox.Message
			if view != nil {
				if u, ok := view.UIDOf(int(n)); ok {
					uid = u
					msg = d.findByUID(uid)
				}
			} else if int(n) <= len(d.messages) {
				msg = d.messages[n-1]
				uid = msg.UID
			}
			hits = append(hits, mailbox.FindHit{Seq: int(n), UID: uid, Message: msg})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Seq < hits[j].Seq })
	return &sliceFindIter{hits: hits}, nil
}

func (d *Data) findByUID(uid uint32) *mailbox.Message {
	for _, m := range d.messages {
		if m.UID == uid {
			return m
		}
	}
	return nil
}

func (d *Data) seqOfLive(uid uint32) int {
	for i, m := range d.messages {
		if m.UID == uid {
			return i + 1
		}
	}
	return 0
}

func (d *Data) ParseMessage(ctx context.Context, am mailbox.AppendMessage) (*mailbox.Message, error) {
	return &mailbox.Message{
		PermanentFlags: am.Flags.Clone(),
		InternalDate:   am.InternalDate,
		Size:           uint32(len(am.Literal)),
	}, nil
}

func (d *Data) Add(ctx context.Context, msg *mailbox.Message, recent bool) (*mailbox.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := &mailbox.Message{
		UID:            d.nextUID,
		PermanentFlags: msg.PermanentFlags.Clone(),
		Recent:         recent,
		InternalDate:   msg.InternalDate,
		Size:           msg.Size,
	}
	d.nextUID++
	d.messages = append(d.messages, stored)
	return stored, nil
}

func (d *Data) SaveFlags(ctx context.Context, msgs ...*mailbox.Message) error {
	// Messages returned by Find/Messages alias the stored *Message, so
	// in-memory persistence is already done by the caller's mutation;
	// this call exists so the session engine's single-save-per-command
	// contract (spec §4.5) has something real to invoke.
	return nil
}

func (d *Data) Delete(ctx context.Context, uids ...uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(uids) == 0 {
		return nil
	}
	doomed := make(map[uint32]struct{}, len(uids))
	for _, u := range uids {
		doomed[u] = struct{}{}
	}
	kept := d.messages[:0]
	for _, m := range d.messages {
		if _, ok := doomed[m.UID]; !ok {
			kept = append(kept, m)
		}
	}
	d.messages = kept
	return nil
}

func (d *Data) Cleanup(ctx context.Context) error { return nil }

func (d *Data) LoadContent(ctx context.Context, msg *mailbox.Message, level mailbox.ContentLevel) (mailbox.Content, error) {
	return noContent{}, nil
}

// noContent is the zero-value mailbox.Content for messages with no
// attached body in the in-memory fake.
type noContent struct{}

func (noContent) Header(string) (string, bool) { return "", false }
func (noContent) BodyText() string             { return "" }
func (noContent) SentDate() (time.Time, bool)  { return time.Time{}, false }

type sliceMessageIter struct {
	msgs []*mailbox.Message
	pos  int
}

func (it *sliceMessageIter) Next(ctx context.Context) (*mailbox.Message, bool, error) {
	if it.pos >= len(it.msgs) {
		return nil, false, nil
	}
	m := it.msgs[it.pos]
	it.pos++
	return m, true, nil
}

type sliceItemIter struct {
	items []selected.UIDFlags
	pos   int
}

func (it *sliceItemIter) Next(ctx context.Context) (selected.UIDFlags, bool, error) {
	if it.pos >= len(it.items) {
		return selected.UIDFlags{}, false, nil
	}
	v := it.items[it.pos]
	it.pos++
	return v, true, nil
}

type sliceFindIter struct {
	hits []mailbox.FindHit
	pos  int
}

func (it *sliceFindIter) Next(ctx context.Context) (mailbox.FindHit, bool, error) {
	if it.pos >= len(it.hits) {
		return mailbox.FindHit{}, false, nil
	}
	h := it.hits[it.pos]
	it.pos++
	return h, true, nil
}
