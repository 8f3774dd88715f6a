package mailbox

import "testing"

func names(entries []ListEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestListMailboxesDelimiterProbe(t *testing.T) {
	entries := ListMailboxes([]string{"Work", "Work/Reports"}, "/", "", "")
	if len(entries) != 1 || entries[0].Name != "" {
		t.Fatalf("expected single empty-name probe entry, got %+v", entries)
	}
	if len(entries[0].Attrs) != 1 || entries[0].Attrs[0] != AttrNoselect {
		t.Errorf("expected Noselect attribute, got %+v", entries[0].Attrs)
	}
}

func TestListMailboxesStarMatchesEverything(t *testing.T) {
	entries := ListMailboxes([]string{"Work", "Work/Reports"}, "/", "", "*")
	got := names(entries)
	want := []string{"INBOX", "Work", "Work/Reports"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestListMailboxesPercentIsOneLevel(t *testing.T) {
	entries := ListMailboxes([]string{"Work", "Work/Reports"}, "/", "", "%")
	got := names(entries)
	want := []string{"INBOX", "Work"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestListMailboxesPercentUnderParent(t *testing.T) {
	entries := ListMailboxes([]string{"Work", "Work/Reports", "Work/Reports/Q1"}, "/", "", "Work/%")
	got := names(entries)
	want := []string{"Work/Reports"}
	if len(got) != len(want) || got[0] != want[0] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestListMailboxesINBOXAlwaysSeeded(t *testing.T) {
	entries := ListMailboxes(nil, "/", "", "INBOX")
	if len(entries) != 1 || entries[0].Name != "INBOX" {
		t.Errorf("expected INBOX seeded even with no backend names, got %+v", entries)
	}
}

func TestListMailboxesRefNameJoining(t *testing.T) {
	entries := ListMailboxes([]string{"Work", "Work/Reports"}, "/", "Work", "%")
	got := names(entries)
	want := []string{"Work/Reports"}
	if len(got) != 1 || got[0] != want[0] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMatchWildcardLiteral(t *testing.T) {
	if !matchWildcard("INBOX", "INBOX", "/") {
		t.Error("expected exact literal match")
	}
	if matchWildcard("INBOX", "Inbox", "/") {
		t.Error("expected case-sensitive literal mismatch")
	}
}

func TestMatchWildcardStarCrossesDelimiter(t *testing.T) {
	if !matchWildcard("Work/Reports/Q1", "Work*", "/") {
		t.Error("expected '*' to cross delimiters")
	}
}

func TestMatchWildcardPercentDoesNotCrossDelimiter(t *testing.T) {
	if matchWildcard("Work/Reports", "Work%", "/") {
		t.Error("expected '%' not to cross a delimiter")
	}
	if !matchWildcard("Work", "Work%", "/") {
		t.Error("expected '%' to match the empty remainder")
	}
}
