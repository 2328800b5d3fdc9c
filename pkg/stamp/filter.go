package stamp

import "strings"

// FilterIPv4 returns the entries that can be reached over IPv4, in input
// order. An entry qualifies when its address is empty (hostname resolution)
// or is not a bracketed IPv6 literal.
func FilterIPv4(entries []*Entry) []*Entry {
	out := make([]*Entry, 0, len(entries))
	for _, entry := range entries {
		if strings.HasPrefix(entry.Address, "[") {
			continue
		}
		out = append(out, entry)
	}
	return out
}
