// Package textenc decodes legacy single-byte spreadsheet text into UTF-8.
// Results for the expensive Korean code pages are memoized in a bounded
// cache because the same byte strings repeat across record streams.
package textenc

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
)

// ErrStrictDecode is returned in strict mode when a Korean code page
// cannot be decoded losslessly.
var ErrStrictDecode = errors.New("strict code page decode failed")

var cp949Cache = NewCache(8 * 1024 * 1024)

// Decode converts bytes in the given code page to a UTF-8 string.
// Unknown pages fall back to Latin-1, which maps every byte and never
// fails; Korean pages substitute U+FFFD on failure unless
// FCUPDATER_CP949_STRICT is set.
func Decode(b []byte, codePage uint16) (string, error) {
	switch codePage {
	case 65001:
		return decodeUTF8Lossy(b), nil
	case 949, 1361, 51949:
		if decoded, ok := decodeKorean(b); ok {
			return decoded, nil
		}
		if strictMode() {
			return "", fmt.Errorf("%w: code page %d (FCUPDATER_CP949_STRICT=1)", ErrStrictDecode, codePage)
		}
		return decodeASCIIWithReplacement(b), nil
	case 1252, 28591:
		return decodeCharmap(b, charmap.Windows1252), nil
	default:
		return decodeCharmap(b, charmap.ISO8859_1), nil
	}
}

func decodeKorean(b []byte) (string, bool) {
	if len(b) == 0 {
		return "", true
	}
	if isASCII(b) {
		return string(b), true
	}
	if cached, ok := cp949Cache.Get(string(b)); ok {
		return cached, true
	}
	decoded, err := korean.EUCKR.NewDecoder().Bytes(b)
	if err != nil {
		return "", false
	}
	// The decoder substitutes U+FFFD for unmappable sequences; treat
	// that as a failure so strict mode can reject it.
	if strings.ContainsRune(string(decoded), utf8.RuneError) {
		return "", false
	}
	text := string(decoded)
	cp949Cache.Set(string(b), text)
	return text, true
}

func decodeCharmap(b []byte, cm *charmap.Charmap) string {
	var out strings.Builder
	out.Grow(len(b))
	for _, c := range b {
		out.WriteRune(cm.DecodeByte(c))
	}
	return out.String()
}

func decodeASCIIWithReplacement(b []byte) string {
	var out strings.Builder
	out.Grow(len(b))
	for _, c := range b {
		if c < 0x80 {
			out.WriteByte(c)
		} else {
			out.WriteRune(utf8.RuneError)
		}
	}
	return out.String()
}

func decodeUTF8Lossy(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

func strictMode() bool {
	v, ok := os.LookupEnv("FCUPDATER_CP949_STRICT")
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
