package esewa

import "strings"

// NormalizeCallbackURL repairs redirect URLs where the gateway appended its
// own query with a second '?' instead of '&'.
//
//	/success?booking_reference=BK1?data=abc  ->  /success?booking_reference=BK1&data=abc
//
// The first '?' is kept, every later one becomes '&'. Safe to call more than once.
func NormalizeCallbackURL(raw string) string {
	first := strings.IndexByte(raw, '?')
	if first < 0 {
		return raw
	}
	rest := raw[first+1:]
	if !strings.Contains(rest, "?") {
		return raw
	}
	return raw[:first+1] + strings.ReplaceAll(rest, "?", "&")
}
