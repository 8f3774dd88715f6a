package sequence

import (
	"reflect"
	"testing"
)

func TestParseSimple(t *testing.T) {
	s, rest, ok := Parse("1:3,5,9:*", false)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if rest != "" {
		t.Errorf("expected no remainder, got %q", rest)
	}
	want := []Range{
		{Low: 1, High: 3},
		{Low: 5, High: 5},
		{Low: 9, High: 0, HighStar: true},
	}
	if !reflect.DeepEqual(s.Ranges, want) {
		t.Errorf("got %+v, want %+v", s.Ranges, want)
	}
}

func TestParseStopsAtTrailingGarbage(t *testing.T) {
	s, rest, ok := Parse("1:5 BODY[]", false)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if rest != " BODY[]" {
		t.Errorf("expected remainder ' BODY[]', got %q", rest)
	}
	if len(s.Ranges) != 1 || s.Ranges[0] != (Range{Low: 1, High: 5}) {
		t.Errorf("unexpected ranges: %+v", s.Ranges)
	}
}

func TestParseNotASequenceSet(t *testing.T) {
	_, rest, ok := Parse("ALL", false)
	if ok {
		t.Error("expected ok=false for non-numeric token")
	}
	if rest != "ALL" {
		t.Errorf("expected buf unchanged on failure, got %q", rest)
	}
}

func TestParseRejectsZero(t *testing.T) {
	_, _, ok := Parse("0:5", false)
	if ok {
		t.Error("expected ok=false, sequence numbers are 1-based")
	}
}

func TestParseStarAlone(t *testing.T) {
	s, _, ok := Parse("*", true)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(s.Ranges) != 1 || !s.Ranges[0].HighStar || s.Ranges[0].Low != 0 {
		t.Errorf("unexpected range for bare '*': %+v", s.Ranges[0])
	}
	if !s.UID {
		t.Error("expected UID flag preserved")
	}
}

func TestContains(t *testing.T) {
	s, _, _ := Parse("1:3,9:*", false)
	max := uint32(12)
	for _, n := range []uint32{1, 2, 3, 9, 10, 12} {
		if !s.Contains(n, max) {
			t.Errorf("expected %d to be contained", n)
		}
	}
	for _, n := range []uint32{4, 8, 13} {
		if s.Contains(n, max) {
			t.Errorf("expected %d not to be contained", n)
		}
	}
}

func TestNumbers(t *testing.T) {
	s, _, _ := Parse("5:3,3", false) // reversed range plus a duplicate
	got := s.Numbers(10)
	want := []uint32{3, 4, 5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestAll(t *testing.T) {
	s := All(true)
	if !s.UID {
		t.Error("expected UID set")
	}
	if len(s.Ranges) != 1 || s.Ranges[0].Low != 1 || !s.Ranges[0].HighStar {
		t.Errorf("unexpected range for All: %+v", s.Ranges)
	}
}

func TestString(t *testing.T) {
	s, _, _ := Parse("1:3,5,9:*", false)
	if got := s.String(); got != "1:3,5,9:*" {
		t.Errorf("got %q, want %q", got, "1:3,5,9:*")
	}
}
