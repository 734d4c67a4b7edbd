package workbook

import (
	"strconv"
	"strings"
)

// The OOXML parts this package touches must survive editing byte-for-byte
// outside the edited regions, so all XML handling is plain substring
// scanning over the original text. Nothing here builds a tree.

// ExtractAttr returns the decoded value of an attribute inside a single
// tag string, or false when the attribute is absent. A match is only
// accepted when preceded by whitespace or '<' so that attribute names
// that happen to be suffixes of other names are skipped.
func ExtractAttr(tag, name string) (string, bool) {
	pattern := name + "="
	cursor := 0
	for {
		rel := strings.Index(tag[cursor:], pattern)
		if rel < 0 {
			return "", false
		}
		idx := cursor + rel
		if idx > 0 {
			prev := tag[idx-1]
			if !isXMLSpace(prev) && prev != '<' {
				cursor = idx + len(pattern)
				continue
			}
		}
		quoteIdx := idx + len(pattern)
		if quoteIdx >= len(tag) {
			return "", false
		}
		quote := tag[quoteIdx]
		if quote != '"' && quote != '\'' {
			cursor = quoteIdx
			continue
		}
		valueStart := quoteIdx + 1
		endRel := strings.IndexByte(tag[valueStart:], quote)
		if endRel < 0 {
			return "", false
		}
		return DecodeEntities(tag[valueStart : valueStart+endRel]), true
	}
}

// FindStartTag returns the index of the next opening tag whose local name
// (namespace prefix stripped) matches tagName, searching from the given
// offset. Closing tags, comments and processing instructions are skipped.
func FindStartTag(xml, tagName string, from int) int {
	cursor := min(from, len(xml))
	wanted := localTagName(tagName)
	for {
		rel := strings.IndexByte(xml[cursor:], '<')
		if rel < 0 {
			return -1
		}
		start := cursor + rel
		rest := xml[start+1:]
		if strings.HasPrefix(rest, "/") || strings.HasPrefix(rest, "!") || strings.HasPrefix(rest, "?") {
			cursor = start + 1
			continue
		}
		nameEnd := strings.IndexFunc(rest, func(ch rune) bool {
			return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '/' || ch == '>'
		})
		if nameEnd < 0 {
			nameEnd = len(rest)
		}
		rawName := rest[:nameEnd]
		if rawName != "" && localTagName(rawName) == wanted {
			return start
		}
		cursor = start + 1
	}
}

// FindEndTag returns the index of the next closing tag whose local name
// matches tagName, searching from the given offset.
func FindEndTag(xml, tagName string, from int) int {
	cursor := min(from, len(xml))
	wanted := localTagName(tagName)
	for {
		rel := strings.Index(xml[cursor:], "</")
		if rel < 0 {
			return -1
		}
		start := cursor + rel
		rest := xml[start+2:]
		nameEnd := strings.IndexFunc(rest, func(ch rune) bool {
			return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '>'
		})
		if nameEnd < 0 {
			nameEnd = len(rest)
		}
		rawName := rest[:nameEnd]
		if rawName != "" && localTagName(rawName) == wanted {
			return start
		}
		cursor = start + 2
	}
}

// TagEnd returns the index of the '>' closing the tag that starts at
// tagStart, or -1.
func TagEnd(xml string, tagStart int) int {
	if tagStart > len(xml) {
		return -1
	}
	rel := strings.IndexByte(xml[tagStart:], '>')
	if rel < 0 {
		return -1
	}
	return tagStart + rel
}

// FirstTagText returns the raw body of the first <tagName ...>...</tagName>
// element. The body is not entity-decoded.
func FirstTagText(xml, tagName string) (string, bool) {
	openStart := strings.Index(xml, "<"+tagName)
	if openStart < 0 {
		return "", false
	}
	openEnd := TagEnd(xml, openStart)
	if openEnd < 0 {
		return "", false
	}
	bodyStart := openEnd + 1
	closeRel := strings.Index(xml[bodyStart:], "</"+tagName+">")
	if closeRel < 0 {
		return "", false
	}
	return xml[bodyStart : bodyStart+closeRel], true
}

// AllTagText concatenates the raw bodies of every <tagName ...> element.
// Used for rich-text runs where a cell's text is split across <t> nodes.
func AllTagText(xml, tagName string) (string, bool) {
	openPattern := "<" + tagName
	closePattern := "</" + tagName + ">"
	cursor := 0
	var out strings.Builder
	for {
		openRel := strings.Index(xml[cursor:], openPattern)
		if openRel < 0 {
			break
		}
		openStart := cursor + openRel
		openEnd := TagEnd(xml, openStart)
		if openEnd < 0 {
			return "", false
		}
		bodyStart := openEnd + 1
		closeRel := strings.Index(xml[bodyStart:], closePattern)
		if closeRel < 0 {
			return "", false
		}
		out.WriteString(xml[bodyStart : bodyStart+closeRel])
		cursor = bodyStart + closeRel + len(closePattern)
	}
	if out.Len() == 0 {
		return "", false
	}
	return out.String(), true
}

// DecodeEntities resolves the five predefined entities plus numeric
// character references. Malformed references pass through unchanged.
func DecodeEntities(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}
	var out strings.Builder
	out.Grow(len(s))
	i := 0
	for i < len(s) {
		if s[i] == '&' {
			if endRel := strings.IndexByte(s[i:], ';'); endRel > 1 {
				end := i + endRel
				if decoded, ok := decodeEntity(s[i+1 : end]); ok {
					out.WriteRune(decoded)
					i = end + 1
					continue
				}
			}
		}
		out.WriteByte(s[i])
		i++
	}
	return out.String()
}

func decodeEntity(entity string) (rune, bool) {
	switch entity {
	case "lt":
		return '<', true
	case "gt":
		return '>', true
	case "quot":
		return '"', true
	case "apos":
		return '\'', true
	case "amp":
		return '&', true
	}
	var body string
	base := 10
	if strings.HasPrefix(entity, "#x") || strings.HasPrefix(entity, "#X") {
		body = entity[2:]
		base = 16
	} else if strings.HasPrefix(entity, "#") {
		body = entity[1:]
	} else {
		return 0, false
	}
	n, err := strconv.ParseUint(body, base, 32)
	if err != nil || n > 0x10FFFF || (n >= 0xD800 && n <= 0xDFFF) {
		return 0, false
	}
	return rune(n), true
}

// EscapeText escapes text content for element bodies.
func EscapeText(s string) string {
	if !strings.ContainsAny(s, "&<>") {
		return s
	}
	var out strings.Builder
	out.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '&':
			out.WriteString("&amp;")
		case '<':
			out.WriteString("&lt;")
		case '>':
			out.WriteString("&gt;")
		default:
			out.WriteByte(s[i])
		}
	}
	return out.String()
}

// EscapeAttr escapes text for attribute values, which additionally need
// quote escaping.
func EscapeAttr(s string) string {
	if !strings.ContainsAny(s, "&<>\"'") {
		return s
	}
	var out strings.Builder
	out.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '&':
			out.WriteString("&amp;")
		case '<':
			out.WriteString("&lt;")
		case '>':
			out.WriteString("&gt;")
		case '"':
			out.WriteString("&quot;")
		case '\'':
			out.WriteString("&apos;")
		default:
			out.WriteByte(s[i])
		}
	}
	return out.String()
}

func isXMLSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func localTagName(name string) string {
	if idx := strings.LastIndexByte(name, ':'); idx >= 0 {
		return name[idx+1:]
	}
	return name
}
