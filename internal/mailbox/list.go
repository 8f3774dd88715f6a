package mailbox

import "strings"

// ListMailboxes builds the hierarchy described in spec §4.5 LIST/LSUB:
// seed with INBOX, insert every name the backend reports (via names),
// evaluate the IMAP wildcards (% one level, * any depth) against
// refName+filter, and return matching entries. An empty filter is the
// conventional delimiter probe and short-circuits to a single
// Noselect-attributed entry with an empty name.
func ListMailboxes(names []string, delimiter, refName, filter string) []ListEntry {
	if filter == "" {
		return []ListEntry{{Name: "", Delimiter: delimiter, Attrs: []Attr{AttrNoselect}}}
	}

	all := make(map[string]struct{}, len(names)+1)
	all["INBOX"] = struct{}{}
	for _, n := range names {
		all[n] = struct{}{}
	}

	canonical := canonicalPattern(refName, filter, delimiter)

	var entries []ListEntry
	for name := range all {
		if matchWildcard(normalizeInbox(name), canonical, delimiter) {
			entries = append(entries, ListEntry{Name: name, Delimiter: delimiter})
		}
	}
	sortEntries(entries)
	return entries
}

func normalizeInbox(name string) string {
	if strings.EqualFold(name, "INBOX") {
		return "INBOX"
	}
	return name
}

func canonicalPattern(refName, filter, delimiter string) string {
	if strings.HasPrefix(filter, delimiter) || refName == "" {
		return filter
	}
	if !strings.HasSuffix(refName, delimiter) {
		return refName + delimiter + filter
	}
	return refName + filter
}

// matchWildcard implements the IMAP LIST wildcard grammar: '*' matches
// zero or more characters including the hierarchy delimiter, '%'
// matches zero or more characters excluding it.
func matchWildcard(text, pattern, delimiter string) bool {
	return wildcardAt(text, pattern, delimiter, 0, 0)
}

func wildcardAt(text, pattern, delimiter string, ti, pi int) bool {
	for pi < len(pattern) {
		switch pattern[pi] {
		case '*':
			pi++
			if pi >= len(pattern) {
				return true
			}
			for t := ti; t <= len(text); t++ {
				if wildcardAt(text, pattern, delimiter, t, pi) {
					return true
				}
			}
			return false
		case '%':
			pi++
			if pi >= len(pattern) {
				return !strings.Contains(text[ti:], delimiter)
			}
			for t := ti; t <= len(text) && !strings.Contains(text[ti:t], delimiter); t++ {
				if wildcardAt(text, pattern, delimiter, t, pi) {
					return true
				}
			}
			return false
		default:
			if ti >= len(text) || text[ti] != pattern[pi] {
				return false
			}
			ti++
			pi++
		}
	}
	return ti >= len(text)
}

// sortEntries orders entries hierarchically (parents before children,
// alphabetical within a level), matching the natural reading order of a
// LIST "" "*" reply such as {INBOX, Work, Work/Reports}.
func sortEntries(entries []ListEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0; j-- {
			if entries[j].Name < entries[j-1].Name {
				entries[j], entries[j-1] = entries[j-1], entries[j]
			} else {
				break
			}
		}
	}
}
