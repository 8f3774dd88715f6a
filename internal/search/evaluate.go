package search

import (
	"strings"
	"time"

	"mailsession/internal/flag"
	"mailsession/internal/mailbox"
	"mailsession/internal/selected"
)

// Params bounds the resolution of "*" and open-ended ranges for one
// SEARCH invocation, captured once at construction time so the result
// is stable even if the mailbox grows mid-search (spec §4.7).
type Params struct {
	View   *selected.View
	MaxSeq uint32
	MaxUID uint32
}

// NewParams builds Params from view's last-reported snapshot, per the
// construction rule in spec §4.5: max_seq=snapshot.exists,
// max_uid=snapshot.next_uid-1.
func NewParams(view *selected.View) Params {
	snap := view.Snapshot()
	maxUID := uint32(0)
	if snap.NextUID > 0 {
		maxUID = snap.NextUID - 1
	}
	return Params{View: view, MaxSeq: uint32(snap.Exists), MaxUID: maxUID}
}

// Matches evaluates k against msg at the given 1-based sequence number,
// recursively over the tree per spec §4.7: KEYSET is conjunction, OR is
// disjunction of its two children, and Inverse negates the result.
func Matches(k Key, seq int, msg *mailbox.LoadedMessage, p Params) bool {
	result := evalKey(k, seq, msg, p)
	if k.Inverse {
		return !result
	}
	return result
}

func evalKey(k Key, seq int, msg *mailbox.LoadedMessage, p Params) bool {
	switch k.Keyword {
	case KeySeqSet:
		max := p.MaxSeq
		n := uint32(seq)
		if k.SeqSet.UID {
			max = p.MaxUID
			n = msg.UID
		}
		return k.SeqSet.Contains(n, max)
	case KeyKeySet:
		for _, sub := range k.SubKeys {
			if !Matches(sub, seq, msg, p) {
				return false
			}
		}
		return true
	case KeyOr:
		return Matches(*k.Or[0], seq, msg, p) || Matches(*k.Or[1], seq, msg, p)
	case KeyAll:
		return true
	case KeyAnswered:
		return effectiveFlags(msg, p.View).Contains(flag.Answered)
	case KeyUnanswered:
		return !effectiveFlags(msg, p.View).Contains(flag.Answered)
	case KeyDeleted:
		return effectiveFlags(msg, p.View).Contains(flag.Deleted)
	case KeyUndeleted:
		return !effectiveFlags(msg, p.View).Contains(flag.Deleted)
	case KeyFlagged:
		return effectiveFlags(msg, p.View).Contains(flag.Flagged)
	case KeyUnflagged:
		return !effectiveFlags(msg, p.View).Contains(flag.Flagged)
	case KeySeen:
		return effectiveFlags(msg, p.View).Contains(flag.Seen)
	case KeyUnseen:
		return !effectiveFlags(msg, p.View).Contains(flag.Seen)
	case KeyDraft:
		return effectiveFlags(msg, p.View).Contains(flag.Draft)
	case KeyUndraft:
		return !effectiveFlags(msg, p.View).Contains(flag.Draft)
	case KeyNew:
		return isRecent(msg, p.View) && !effectiveFlags(msg, p.View).Contains(flag.Seen)
	case KeyOld:
		return !isRecent(msg, p.View)
	case KeyRecent:
		return isRecent(msg, p.View)
	case KeyKeyword:
		return effectiveFlags(msg, p.View).Contains(k.Flag)
	case KeyUnkeyword:
		return !effectiveFlags(msg, p.View).Contains(k.Flag)
	case KeyLarger:
		return msg.Size > k.Int
	case KeySmaller:
		return msg.Size < k.Int
	case KeyBefore:
		return dateOnly(msg.InternalDate).Before(k.Date)
	case KeyOn:
		return dateOnly(msg.InternalDate).Equal(k.Date)
	case KeySince:
		d := dateOnly(msg.InternalDate)
		return d.Equal(k.Date) || d.After(k.Date)
	case KeySentBefore, KeySentOn, KeySentSince:
		sent, ok := msg.Content.SentDate()
		if !ok {
			return false
		}
		sent = dateOnly(sent)
		switch k.Keyword {
		case KeySentBefore:
			return sent.Before(k.Date)
		case KeySentOn:
			return sent.Equal(k.Date)
		default:
			return sent.Equal(k.Date) || sent.After(k.Date)
		}
	case KeyBcc, KeyCc, KeyFrom, KeySubject, KeyTo:
		v, ok := msg.Content.Header(string(k.Keyword))
		return ok && containsFold(v, k.Str)
	case KeyHeader:
		v, ok := msg.Content.Header(k.HeaderFV[0])
		if k.HeaderFV[1] == "" {
			return ok
		}
		return ok && containsFold(v, k.HeaderFV[1])
	case KeyBody, KeyText:
		return containsFold(msg.Content.BodyText(), k.Str)
	default:
		return false
	}
}

func effectiveFlags(msg *mailbox.LoadedMessage, view *selected.View) flag.Set {
	return msg.GetFlags(view)
}

func isRecent(msg *mailbox.LoadedMessage, view *selected.View) bool {
	if view == nil {
		return msg.Recent
	}
	return view.Session.IsRecent(msg.UID)
}

// dateOnly truncates t to midnight UTC on its calendar day, so BEFORE/
// ON/SINCE compare dates rather than instants.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
