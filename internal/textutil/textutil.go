// Package textutil holds the pure text transforms the signal parser leans
// on: digit-script normalization, tolerant number parsing, and ticker
// token classification. Everything here is stateless.
package textutil

import (
	"regexp"
	"strconv"
	"strings"
)

// numberPattern matches a run of ASCII digits, Arabic-Indic digits,
// Extended-Arabic-Indic digits, and separator characters.
var numberPattern = regexp.MustCompile(`[\d\x{0660}-\x{0669}\x{06F0}-\x{06F9}.,\x{060C}]+`)

// NormalizeDigits maps Arabic-Indic (U+0660..U+0669) and
// Extended-Arabic-Indic (U+06F0..U+06F9) digits to ASCII, leaving all
// other runes untouched.
func NormalizeDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 0x0660 && r <= 0x0669:
			b.WriteRune('0' + (r - 0x0660))
		case r >= 0x06F0 && r <= 0x06F9:
			b.WriteRune('0' + (r - 0x06F0))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseNumber parses a price token leniently. Comma and the Arabic decimal
// separator (U+060C) are treated as decimal points, every other non-digit
// is stripped, and if more than one dot survives only the text before the
// second dot is kept. Returns false when nothing numeric remains.
func ParseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	norm := NormalizeDigits(s)
	norm = strings.ReplaceAll(norm, "،", ".")
	norm = strings.ReplaceAll(norm, ",", ".")
	var b strings.Builder
	for _, r := range norm {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	norm = b.String()
	if norm == "" {
		return 0, false
	}
	if first := strings.IndexByte(norm, '.'); first >= 0 {
		if next := strings.IndexByte(norm[first+1:], '.'); next >= 0 {
			norm = strings.TrimRight(norm[:first+1+next], ".")
		}
	}
	v, err := strconv.ParseFloat(norm, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// AllNumbers returns every parseable number in the text, in encounter order.
func AllNumbers(text string) []float64 {
	var out []float64
	for _, tok := range numberPattern.FindAllString(text, -1) {
		if v, ok := ParseNumber(tok); ok {
			out = append(out, v)
		}
	}
	return out
}

// tickerBlacklist rejects signal-vocabulary tokens that pass the symbol
// shape test but are never tickers.
var tickerBlacklist = map[string]bool{
	"BUY": true, "ENTRY": true, "TRIGGER": true, "STOP": true,
	"SL": true, "TP": true, "TARGET": true,
	"T1": true, "T2": true, "T3": true,
}

// IsTickerLike reports whether cand (already uppercased) passes the
// symbol shape and blacklist checks.
func IsTickerLike(cand string) bool {
	if len(cand) < 1 || len(cand) > 10 {
		return false
	}
	return !tickerBlacklist[cand]
}

var (
	symbolLine  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]{0,9}$`)
	symbolToken = regexp.MustCompile(`\b([A-Za-z][A-Za-z0-9._-]{0,9})\b`)
)

// DetectTicker scans line by line: a standalone symbol line wins outright,
// then the first ticker-like token on any line, then the first ticker-like
// token anywhere in the text.
func DetectTicker(text string) (string, bool) {
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' }) {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		if symbolLine.MatchString(s) {
			return strings.ToUpper(s), true
		}
		if m := symbolToken.FindStringSubmatch(s); m != nil {
			cand := strings.ToUpper(m[1])
			if IsTickerLike(cand) {
				return cand, true
			}
		}
	}
	for _, m := range symbolToken.FindAllStringSubmatch(text, -1) {
		cand := strings.ToUpper(m[1])
		if IsTickerLike(cand) {
			return cand, true
		}
	}
	return "", false
}
