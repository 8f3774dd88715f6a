// Package mailbox declares the backend contracts the session engine is
// built against (spec §4.1, §6): the sole coupling between the session
// engine and persistent storage. The engine owns no persistent state of
// its own — every mutation goes through these interfaces.
package mailbox

import (
	"context"
	"time"

	"mailsession/internal/flag"
	"mailsession/internal/selected"
	"mailsession/internal/sequence"
)

// Attr is a LIST/LSUB mailbox attribute, e.g. \Noselect.
type Attr string

const (
	AttrNoselect Attr = `\Noselect`
	AttrNoinfer  Attr = `\Noinferiors`
)

// ListEntry is one row of a LIST/LSUB reply: the mailbox name, the
// backend's hierarchy delimiter, and its attributes.
type ListEntry struct {
	Name      string
	Delimiter string
	Attrs     []Attr
}

// Message is a stored message as the backend sees it: UID-addressable,
// carrying persisted permanent flags and a transient recent bit (spec
// §3). PermanentFlags is mutable in place; callers holding a *Message
// returned from find/items/messages may modify it and persist the
// change with Data.SaveFlags.
type Message struct {
	UID            uint32
	PermanentFlags flag.Set
	Recent         bool
	InternalDate   time.Time
	Size           uint32

	// Literal is the message's raw content as parsed by ParseMessage.
	// Backends that store content (rather than discarding it, as a
	// content-free test fake would) persist it in Add and may clear
	// it afterward; it is not guaranteed populated on a Message handed
	// back from Find/Messages/Items.
	Literal []byte
}

// GetFlags returns the union of m's permanent flags and the session
// flags view records for m.UID — the "effective flag set" of spec
// §4.5 STORE and §4.7's flag predicates.
func (m *Message) GetFlags(view *selected.View) flag.Set {
	out := m.PermanentFlags.Clone()
	if view != nil {
		for f := range view.Session.Get(m.UID) {
			out[f] = struct{}{}
		}
		if view.Session.IsRecent(m.UID) {
			out[flag.Recent] = struct{}{}
		}
	}
	return out
}

// LoadedMessage is a Message together with whatever parsed-or-raw
// content was fetched for it — headers, body, or both, per the
// FetchRequirement the caller declared it needed. Content is nil unless
// the caller asked for it.
type LoadedMessage struct {
	*Message
	Content Content
}

// ContentLevel bounds how much of a message's content LoadContent must
// produce, mirroring search.Requirement without mailbox depending on
// the search package.
type ContentLevel int

const (
	ContentNone ContentLevel = iota
	ContentMetadata
	ContentHeaders
	ContentBody
)

// Content is the subset of a message's parsed MIME content the search
// evaluator and FETCH need. It is intentionally narrow: MIME parsing
// itself is out of scope (spec §1) and lives in the caller-supplied
// backend.
type Content interface {
	Header(name string) (string, bool)
	BodyText() string
	SentDate() (time.Time, bool)
}

// AppendMessage is one message handed to APPEND, before the backend has
// parsed it into a stored Message.
type AppendMessage struct {
	Literal      []byte
	Flags        flag.Set
	InternalDate time.Time
}

// Data is one mailbox's operations, per spec §4.1.
type Data interface {
	Name() string
	UIDValidity() uint64
	NextUID() uint32
	ReadOnly() bool
	PermanentFlags() flag.Set
	SessionFlags() flag.Set
	SelectedSet() *selected.Set

	// Snapshot returns the mailbox's current (exists, recent, uidnext,
	// uidvalidity) counters for SELECT/EXAMINE/STATUS replies.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Messages enumerates every message in ascending sequence-number
	// order. Implementations may stream from storage; the session
	// engine never holds more than the current message in hand.
	Messages(ctx context.Context) (MessageIter, error)

	// Items enumerates (UID, permanent-flag-set) pairs in ascending UID
	// order, the minimal data the refresh protocol needs (spec §4.3).
	Items(ctx context.Context) (ItemIter, error)

	// Find resolves seqSet (by UID or sequence number per seqSet.UID)
	// against view's last-known sequence numbering, yielding each
	// (seq, uid, message) hit in ascending order. A nil message for a
	// given hit means the UID/seq no longer exists.
	Find(ctx context.Context, seqSet sequence.Set, view *selected.View) (FindIter, error)

	// ParseMessage parses an APPEND literal into a storable Message.
	// Content parsing itself is out of scope; implementations are free
	// to defer real MIME parsing to first access.
	ParseMessage(ctx context.Context, msg AppendMessage) (*Message, error)

	// LoadContent loads msg's parsed content up to the given level, for
	// FETCH/SEARCH keys that need more than bare flags. Backends that
	// eagerly parse at Add time may simply return the cached Content;
	// it is a suspension point for backends that parse lazily.
	LoadContent(ctx context.Context, msg *Message, level ContentLevel) (Content, error)

	// Add stores msg, returning the copy with its assigned UID. If
	// recent is true the stored Recent bit is set; otherwise the caller
	// (the session engine) is expected to claim recent-bit ownership on
	// behalf of a live selected view instead (spec §4.5, §9).
	Add(ctx context.Context, msg *Message, recent bool) (*Message, error)

	// SaveFlags persists PermanentFlags and Recent for each message,
	// in one backend call.
	SaveFlags(ctx context.Context, msgs ...*Message) error

	// Delete permanently removes the messages with the given UIDs.
	Delete(ctx context.Context, uids ...uint32) error

	// Cleanup performs backend housekeeping (e.g. reclaiming storage
	// for already-deleted messages); invoked opportunistically by
	// check_mailbox's housekeeping flag (spec §4.4).
	Cleanup(ctx context.Context) error
}

// Snapshot is a mailbox's headline counters at one instant, returned by
// SELECT/EXAMINE and LIST-adjacent STATUS-style queries.
type Snapshot struct {
	Exists      int
	Recent      int
	UIDValidity uint64
	NextUID     uint32
}

// MessageIter, ItemIter and FindIter are simple pull iterators so
// backends can stream without the session engine needing a generator
// or channel per call; each suspends on Next exactly where spec §5
// calls out backend enumeration as a suspension point.
type MessageIter interface {
	Next(ctx context.Context) (*Message, bool, error)
}

type ItemIter interface {
	Next(ctx context.Context) (selected.UIDFlags, bool, error)
}

type FindHit struct {
	Seq     int
	UID     uint32
	Message *Message
}

type FindIter interface {
	Next(ctx context.Context) (FindHit, bool, error)
}

// Set manages the mailboxes available to one authenticated user — the
// mailbox-set contract of spec §4.1.
type Set interface {
	// Delimiter is the backend's hierarchy delimiter, e.g. "/".
	Delimiter() string

	// GetMailbox resolves name to its Data. If tryCreate is true and
	// creation is permitted, a missing mailbox is created instead of
	// returning ErrNotFound.
	GetMailbox(ctx context.Context, name string, tryCreate bool) (Data, error)

	ListMailboxes(ctx context.Context) ([]string, error)
	ListSubscribed(ctx context.Context) ([]string, error)

	AddMailbox(ctx context.Context, name string) error
	DeleteMailbox(ctx context.Context, name string) error
	RenameMailbox(ctx context.Context, from, to string) error
	SetSubscribed(ctx context.Context, name string, subscribed bool) error
}
