// Package ledger reconciles the master fuel-cost workbook against the
// station records collected from regional source files.
package ledger

import (
	"strings"
	"unicode"
)

// SourceRecord is one fuel station as reported by a source file. Price
// fields are nil when the source did not carry a usable number.
type SourceRecord struct {
	Region   string
	Name     string
	Brand    string
	SelfYN   string
	Address  string
	Phone    string
	Gasoline *int
	Premium  *int
	Diesel   *int
}

// ChangeRow records how an existing master row differed from its source
// record, with old and new prices side by side.
type ChangeRow struct {
	Reason      string
	Region      string
	Name        string
	Address     string
	OldGasoline *int
	NewGasoline *int
	OldPremium  *int
	NewPremium  *int
	OldDiesel   *int
	NewDiesel   *int
}

// StoreRow is a station added to or removed from the master sheet.
type StoreRow struct {
	Region   string
	Name     string
	Address  string
	Gasoline *int
	Premium  *int
	Diesel   *int
}

// SameIntPtr compares optional integers; two nils are equal.
func SameIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// CanonHeader strips every whitespace rune so header cells like
// "전화 번호" and "전화번호" compare equal.
func CanonHeader(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}

// SameTrimmed compares two strings ignoring leading and trailing spaces.
func SameTrimmed(a, b string) bool {
	return strings.TrimSpace(a) == strings.TrimSpace(b)
}

// NormalizePhone keeps only ASCII digits.
func NormalizePhone(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

// SamePhone compares phone numbers digit-wise. Two entries with no
// digits at all fall back to a trimmed string comparison.
func SamePhone(a, b string) bool {
	na := NormalizePhone(a)
	nb := NormalizePhone(b)
	if na != "" || nb != "" {
		return na == nb
	}
	return SameTrimmed(a, b)
}

// SameSelfService compares self-service flags ignoring all whitespace.
func SameSelfService(a, b string) bool {
	return CanonHeader(a) == CanonHeader(b)
}

var addressAbbreviations = [][2]string{
	{"충청남도", "충남"},
	{"충청북도", "충북"},
	{"대전광역시", "대전"},
	{"세종특별자치시", "세종"},
}

// NormalizeAddressKey collapses an address into a matching key: province
// names are abbreviated, then whitespace and common punctuation are
// dropped.
func NormalizeAddressKey(addr string) string {
	s := strings.TrimSpace(addr)
	for _, pair := range addressAbbreviations {
		s = strings.ReplaceAll(s, pair[0], pair[1])
	}
	var out strings.Builder
	out.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		switch r {
		case '(', ')', '[', ']', '{', '}', ',', '.':
			continue
		}
		out.WriteRune(r)
	}
	return out.String()
}
