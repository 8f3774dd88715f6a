package session

import (
	"context"
	"testing"
	"time"

	"mailsession/internal/backend/memory"
	"mailsession/internal/flag"
	"mailsession/internal/mailbox"
	"mailsession/internal/search"
	"mailsession/internal/sequence"
)

func seqSet(t *testing.T, s string, uid bool) sequence.Set {
	t.Helper()
	set, _, ok := sequence.Parse(s, uid)
	if !ok {
		t.Fatalf("failed to parse sequence set %q", s)
	}
	return set
}

func TestSelectOwnsRecentBit(t *testing.T) {
	ctx := context.Background()
	set := memory.NewSet("/")
	sess := New(set)

	mbx, err := set.GetMailbox(ctx, "INBOX", false)
	if err != nil {
		t.Fatalf("get INBOX: %v", err)
	}
	if _, err := mbx.Add(ctx, &mailbox.Message{InternalDate: time.Now(), Size: 10}, true); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	snap, view, err := sess.Select(ctx, "INBOX", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if snap.Exists != 1 || snap.Recent != 1 {
		t.Errorf("expected Exists=1 Recent=1, got %+v", snap)
	}
	if !view.Session.IsRecent(1) {
		t.Error("expected the selecting view to own uid 1's recent bit")
	}

	hits, _, err := sess.Fetch(ctx, view, sequence.All(false), false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected one hit, got %d", len(hits))
	}
	if hits[0].Message.Recent {
		t.Error("expected stored Recent bit cleared once a view claims it")
	}
}

func TestAppendClaimsRecentForLiveView(t *testing.T) {
	ctx := context.Background()
	set := memory.NewSet("/")
	sess := New(set)

	_, view, err := sess.Select(ctx, "INBOX", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	appendUID, refreshed, err := sess.Append(ctx, "INBOX", []mailbox.AppendMessage{
		{Literal: []byte("hello"), Flags: flag.NewSet(), InternalDate: time.Now()},
	}, view)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(appendUID.UIDs) != 1 || appendUID.UIDs[0] != 1 {
		t.Errorf("expected APPENDUID 1, got %+v", appendUID)
	}
	if !refreshed.Session.IsRecent(1) {
		t.Error("expected the live selected view to claim the appended message's recent bit")
	}

	hits, _, err := sess.Fetch(ctx, refreshed, sequence.All(false), false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hits[0].Message.Recent {
		t.Error("expected stored Recent to stay false once a live view claims ownership")
	}
}

func TestAppendStoresRecentWithNoLiveView(t *testing.T) {
	ctx := context.Background()
	set := memory.NewSet("/")
	sess := New(set)

	_, _, err := sess.Append(ctx, "INBOX", []mailbox.AppendMessage{
		{Literal: []byte("hello"), Flags: flag.NewSet(), InternalDate: time.Now()},
	}, nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	snap, _, err := sess.Select(ctx, "INBOX", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if snap.Recent != 1 {
		t.Errorf("expected the stored message to still be Recent with no prior live view, got %+v", snap)
	}
}

func TestFetchSetSeen(t *testing.T) {
	ctx := context.Background()
	set := memory.NewSet("/")
	sess := New(set)

	mbx, _ := set.GetMailbox(ctx, "INBOX", false)
	mbx.Add(ctx, &mailbox.Message{InternalDate: time.Now(), Size: 1}, false)

	_, view, err := sess.Select(ctx, "INBOX", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	hits, view, err := sess.Fetch(ctx, view, sequence.All(false), true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !hits[0].Message.PermanentFlags.Contains(flag.Seen) {
		t.Error("expected \\Seen set by a FETCH with setSeen")
	}

	hits2, _, err := sess.Fetch(ctx, view, sequence.All(false), false)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !hits2[0].Message.PermanentFlags.Contains(flag.Seen) {
		t.Error("expected \\Seen to persist across fetches")
	}
}

func TestFetchReadOnlyNeverSetsSeen(t *testing.T) {
	ctx := context.Background()
	set := memory.NewSet("/")
	sess := New(set)
	mbx, _ := set.GetMailbox(ctx, "INBOX", false)
	mbx.Add(ctx, &mailbox.Message{InternalDate: time.Now(), Size: 1}, false)

	_, view, err := sess.Select(ctx, "INBOX", true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	hits, _, err := sess.Fetch(ctx, view, sequence.All(false), true)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hits[0].Message.PermanentFlags.Contains(flag.Seen) {
		t.Error("expected EXAMINE (read-only) to never set \\Seen")
	}
}

func TestStoreRejectsUnpermittedFlags(t *testing.T) {
	ctx := context.Background()
	set := memory.NewSet("/")
	sess := New(set)
	mbx, _ := set.GetMailbox(ctx, "INBOX", false)
	mbx.Add(ctx, &mailbox.Message{InternalDate: time.Now(), Size: 1}, false)

	_, view, err := sess.Select(ctx, "INBOX", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	results, view, err := sess.Store(ctx, view, sequence.All(false), flag.NewSet(flag.Seen, "$Custom"), flag.OpAdd)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if !results[0].Flags.Contains(flag.Seen) {
		t.Error("expected permitted \\Seen to be stored")
	}

	hits, _, err := sess.Fetch(ctx, view, sequence.All(false), false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if hits[0].Message.PermanentFlags.Contains("$Custom") {
		t.Error("expected an unpermitted keyword never persisted to permanent flags")
	}
	if !results[0].Flags.Contains("$Custom") {
		t.Error("expected session flags to still record the full requested set, even if unpermitted permanently")
	}
}

func TestStoreReadOnlyFails(t *testing.T) {
	ctx := context.Background()
	set := memory.NewSet("/")
	sess := New(set)
	mbx, _ := set.GetMailbox(ctx, "INBOX", false)
	mbx.Add(ctx, &mailbox.Message{InternalDate: time.Now(), Size: 1}, false)

	_, view, err := sess.Select(ctx, "INBOX", true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, _, err := sess.Store(ctx, view, sequence.All(false), flag.NewSet(flag.Seen), flag.OpAdd); err == nil {
		t.Error("expected STORE against an EXAMINEd view to fail")
	}
}

func TestExpungeRemovesDeletedOnly(t *testing.T) {
	ctx := context.Background()
	set := memory.NewSet("/")
	sess := New(set)
	mbx, _ := set.GetMailbox(ctx, "INBOX", false)
	mbx.Add(ctx, &mailbox.Message{InternalDate: time.Now(), Size: 1}, false)
	mbx.Add(ctx, &mailbox.Message{InternalDate: time.Now(), Size: 1}, false)

	_, view, err := sess.Select(ctx, "INBOX", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	_, view, err = sess.Store(ctx, view, seqSet(t, "1", true), flag.NewSet(flag.Deleted), flag.OpAdd)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	view, err = sess.Expunge(ctx, view, nil)
	if err != nil {
		t.Fatalf("expunge: %v", err)
	}

	snap, err := mbx.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Exists != 1 {
		t.Errorf("expected one message left after expunge, got %+v", snap)
	}
	if view.Contains(1) {
		t.Error("expected uid 1 no longer present in the refreshed view")
	}
	if !view.Contains(2) {
		t.Error("expected uid 2 to survive the expunge")
	}
}

func TestExpungeReadOnlyFails(t *testing.T) {
	ctx := context.Background()
	set := memory.NewSet("/")
	sess := New(set)
	_, view, err := sess.Select(ctx, "INBOX", true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if _, err := sess.Expunge(ctx, view, nil); err == nil {
		t.Error("expected EXPUNGE against an EXAMINEd view to fail")
	}
}

func TestCopyPreservesFlagsAndAssignsUIDPLUS(t *testing.T) {
	ctx := context.Background()
	set := memory.NewSet("/")
	sess := New(set)
	src, _ := set.GetMailbox(ctx, "INBOX", false)
	src.Add(ctx, &mailbox.Message{PermanentFlags: flag.NewSet(flag.Flagged), InternalDate: time.Now(), Size: 1}, false)

	if err := set.AddMailbox(ctx, "Archive"); err != nil {
		t.Fatalf("create Archive: %v", err)
	}

	_, view, err := sess.Select(ctx, "INBOX", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	copyUID, _, err := sess.Copy(ctx, view, sequence.All(false), "Archive")
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if len(copyUID.Pairs) != 1 || copyUID.Pairs[0][0] != 1 || copyUID.Pairs[0][1] != 1 {
		t.Errorf("expected COPYUID pair (1,1), got %+v", copyUID.Pairs)
	}

	_, destView, err := sess.Select(ctx, "Archive", false)
	if err != nil {
		t.Fatalf("select Archive: %v", err)
	}
	hits, _, err := sess.Fetch(ctx, destView, sequence.All(false), false)
	if err != nil {
		t.Fatalf("fetch Archive: %v", err)
	}
	if len(hits) != 1 || !hits[0].Message.PermanentFlags.Contains(flag.Flagged) {
		t.Errorf("expected the copied message to carry its source flags, got %+v", hits)
	}
}

func TestSearchMatchesFlagKeys(t *testing.T) {
	ctx := context.Background()
	set := memory.NewSet("/")
	sess := New(set)
	mbx, _ := set.GetMailbox(ctx, "INBOX", false)
	mbx.Add(ctx, &mailbox.Message{PermanentFlags: flag.NewSet(flag.Seen), InternalDate: time.Now(), Size: 1}, false)
	mbx.Add(ctx, &mailbox.Message{PermanentFlags: flag.NewSet(), InternalDate: time.Now(), Size: 1}, false)

	_, view, err := sess.Select(ctx, "INBOX", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	key, _, err := search.Parse("SEEN", "")
	if err != nil {
		t.Fatalf("parse SEARCH key: %v", err)
	}
	matches, _, err := sess.Search(ctx, view, key)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) != 1 || matches[0] != 1 {
		t.Errorf("expected only seq 1 to match SEEN, got %v", matches)
	}
}

func TestCheckWithoutWaitOnReturnsPromptly(t *testing.T) {
	ctx := context.Background()
	set := memory.NewSet("/")
	sess := New(set)
	_, view, err := sess.Select(ctx, "INBOX", false)
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := sess.Check(ctx, view, nil, false)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Check without waitOn should return promptly")
	}
}

func TestListMailboxesReflectsCreated(t *testing.T) {
	ctx := context.Background()
	set := memory.NewSet("/")
	sess := New(set)
	if _, err := sess.CreateMailbox(ctx, "Work", nil); err != nil {
		t.Fatalf("create Work: %v", err)
	}
	entries, _, err := sess.ListMailboxes(ctx, "", "*", false, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}
	found := false
	for _, n := range names {
		if n == "Work" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected Work in LIST output, got %v", names)
	}
}
