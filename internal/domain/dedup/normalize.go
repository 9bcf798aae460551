package dedup

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// accentFolder is built per call: transform chains carry state and detection
// may run on several goroutines at once.
func accentFolder() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// NormalizeName lowercases s, strips diacritics and removes all whitespace,
// so "Éric " and "eric" compare equal. It is idempotent.
func NormalizeName(s string) string {
	lowered := strings.ToLower(s)
	folded, _, err := transform.String(accentFolder(), lowered)
	if err != nil {
		folded = lowered
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, folded)
}

// NormalizeDate renders the calendar date of t as YYYY-MM-DD, dropping the
// time of day.
func NormalizeDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// NormalizeIdentifier trims an external identifier. An empty result means the
// patient has no identifier.
func NormalizeIdentifier(s string) string {
	return strings.TrimSpace(s)
}

// calendarDay returns the day number of t's calendar date, counted from the
// Unix epoch.
func calendarDay(t time.Time) int64 {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}
