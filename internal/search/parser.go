package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailsession/internal/flag"
	"mailsession/internal/sequence"
)

// ErrNotParseable means the input violated the SEARCH grammar (spec
// §7); it surfaces to the protocol layer as a tagged BAD response.
var ErrNotParseable = errors.New("not parseable")

// ErrUnexpectedType means a key-list element failed to parse as a
// SearchKey; per spec §7 this propagates unconditionally out of list
// parsing and is never recovered by an alternative grammar branch.
var ErrUnexpectedType = errors.New("unexpected type in key list")

// monthNames underlies the "%d-%b-%Y" date format IMAP uses for SEARCH
// dates (BEFORE/ON/SINCE/...), spelled out because Go's time layout
// reference cannot express a three-letter English month independent of
// locale the way strptime's %b can.
var monthNames = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// Parse consumes buf as a SEARCH token stream and returns the resulting
// Key tree and the unconsumed remainder, per the grammar in spec §4.6:
// leading whitespace is optional, a NOT prefix toggles inverse, then
// one of a sequence-set literal, a parenthesized key list, or an atom
// keyword dispatches to its typed payload.
func Parse(buf, charset string) (Key, string, error) {
	buf = strings.TrimLeft(buf, " ")

	inverse := false
	if rest, ok := stripNotPrefix(buf); ok {
		inverse = true
		buf = rest
	}

	if seqSet, rest, ok := sequence.Parse(buf, false); ok {
		return Key{Keyword: KeySeqSet, SeqSet: seqSet, Inverse: inverse}, rest, nil
	}

	if strings.HasPrefix(buf, "(") {
		keys, rest, err := parseKeyList(buf, charset)
		if err != nil {
			return Key{}, buf, err
		}
		return Key{Keyword: KeyKeySet, SubKeys: keys, Inverse: inverse}, rest, nil
	}

	atom, rest := parseAtom(buf)
	if atom == "" {
		return Key{}, buf, fmt.Errorf("%w: expected search key", ErrNotParseable)
	}
	key := strings.ToUpper(atom)
	return parseAtomKey(Keyword(key), rest, inverse, charset)
}

func parseAtomKey(key Keyword, rest string, inverse bool, charset string) (Key, string, error) {
	if _, ok := nullaryKeys[key]; ok {
		return Key{Keyword: key, Inverse: inverse}, rest, nil
	}
	if _, ok := stringKeys[key]; ok {
		val, after, err := parseAString(strings.TrimLeft(rest, " "), charset)
		if err != nil {
			return Key{}, rest, err
		}
		return Key{Keyword: key, Str: val, Inverse: inverse}, after, nil
	}
	if _, ok := dateKeys[key]; ok {
		date, after, err := parseDate(strings.TrimLeft(rest, " "))
		if err != nil {
			return Key{}, rest, err
		}
		return Key{Keyword: key, Date: date, Inverse: inverse}, after, nil
	}
	switch key {
	case KeyKeyword, KeyUnkeyword:
		tok, after := parseAtom(strings.TrimLeft(rest, " "))
		f := flag.Flag(tok)
		if f.IsSystem() {
			return Key{}, rest, fmt.Errorf("%w: %s must not name a system flag", ErrNotParseable, key)
		}
		return Key{Keyword: key, Flag: f, Inverse: inverse}, after, nil
	case KeyLarger, KeySmaller:
		tok, after := parseAtom(strings.TrimLeft(rest, " "))
		n, err := strconv.ParseUint(tok, 10, 32)
		if err != nil {
			return Key{}, rest, fmt.Errorf("%w: %s requires a number", ErrNotParseable, key)
		}
		return Key{Keyword: key, Int: uint32(n), Inverse: inverse}, after, nil
	case KeyUID:
		seqSet, after, ok := sequence.Parse(strings.TrimLeft(rest, " "), true)
		if !ok {
			return Key{}, rest, fmt.Errorf("%w: UID requires a sequence set", ErrNotParseable)
		}
		return Key{Keyword: KeySeqSet, SeqSet: seqSet, Inverse: inverse}, after, nil
	case KeyHeader:
		field, after, err := parseAString(strings.TrimLeft(rest, " "), charset)
		if err != nil {
			return Key{}, rest, err
		}
		value, after2, err := parseAString(strings.TrimLeft(after, " "), charset)
		if err != nil {
			return Key{}, rest, err
		}
		return Key{Keyword: key, HeaderFV: [2]string{field, value}, Inverse: inverse}, after2, nil
	case KeyOr:
		left, after, err := Parse(rest, charset)
		if err != nil {
			return Key{}, rest, err
		}
		right, after2, err := Parse(after, charset)
		if err != nil {
			return Key{}, rest, err
		}
		l, r := left, right
		return Key{Keyword: KeyOr, Or: [2]*Key{&l, &r}, Inverse: inverse}, after2, nil
	}
	return Key{}, rest, fmt.Errorf("%w: unrecognized search key %q", ErrNotParseable, key)
}

// parseKeyList parses a parenthesized, space-separated list of search
// keys (the KEYSET production): "(ANSWERED SEEN)". Any element that
// fails to parse as a SearchKey propagates as ErrUnexpectedType rather
// than being swallowed, per spec §4.6/§7.
func parseKeyList(buf, charset string) ([]Key, string, error) {
	if !strings.HasPrefix(buf, "(") {
		return nil, buf, ErrNotParseable
	}
	rest := buf[1:]
	var keys []Key
	for {
		rest = strings.TrimLeft(rest, " ")
		if strings.HasPrefix(rest, ")") {
			return keys, rest[1:], nil
		}
		if rest == "" {
			return nil, buf, fmt.Errorf("%w: unterminated key list", ErrUnexpectedType)
		}
		key, after, err := Parse(rest, charset)
		if err != nil {
			return nil, buf, fmt.Errorf("%w: %v", ErrUnexpectedType, err)
		}
		keys = append(keys, key)
		rest = after
	}
}

func stripNotPrefix(buf string) (string, bool) {
	upper := strings.ToUpper(buf)
	if strings.HasPrefix(upper, "NOT ") {
		return strings.TrimLeft(buf[3:], " "), true
	}
	if strings.HasPrefix(upper, "NOT\t") {
		return strings.TrimLeft(buf[3:], " \t"), true
	}
	return buf, false
}

// firstToken returns the leading run of non-space characters in s.
func firstToken(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

// parseAtom returns the leading run of atom characters (anything but
// space and parentheses), the way an IMAP atom is delimited.
func parseAtom(s string) (string, string) {
	end := len(s)
	for i, r := range s {
		if r == ' ' || r == '(' || r == ')' {
			end = i
			break
		}
	}
	return s[:end], s[end:]
}

// parseAString parses either a quoted string or a bare atom. The
// charset argument is not used: the bytes are returned as given, with
// no charset decoding and no rejection of other charsets, so only
// US-ASCII and UTF-8 input come out as the intended text.
func parseAString(s, charset string) (string, string, error) {
	if strings.HasPrefix(s, `"`) {
		end := strings.IndexByte(s[1:], '"')
		if end < 0 {
			return "", s, fmt.Errorf("%w: unterminated quoted string", ErrNotParseable)
		}
		return s[1 : 1+end], s[1+end+1:], nil
	}
	tok, rest := parseAtom(s)
	if tok == "" {
		return "", s, fmt.Errorf("%w: expected string", ErrNotParseable)
	}
	return tok, rest, nil
}

// parseDate parses an IMAP SEARCH date, format "%d-%b-%Y" (e.g.
// "01-Jan-2024"), given either bare or quoted.
func parseDate(s string) (time.Time, string, error) {
	tok, rest, err := parseAString(s, "")
	if err != nil {
		return time.Time{}, s, err
	}
	parts := strings.Split(tok, "-")
	if len(parts) != 3 {
		return time.Time{}, s, fmt.Errorf("%w: malformed date %q", ErrNotParseable, tok)
	}
	day, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, s, fmt.Errorf("%w: malformed date %q", ErrNotParseable, tok)
	}
	month, ok := monthNames[parts[1]]
	if !ok {
		return time.Time{}, s, fmt.Errorf("%w: malformed date %q", ErrNotParseable, tok)
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, s, fmt.Errorf("%w: malformed date %q", ErrNotParseable, tok)
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), rest, nil
}
