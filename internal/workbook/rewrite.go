package workbook

import (
	"strconv"
	"strings"
)

// RewriteFormulaRows rewrites every relative or absolute cell reference in
// a formula, mapping its row through resolver. String literals (with ""
// escapes) pass through untouched, and candidates adjacent to identifier
// characters are rejected so function names and defined names survive.
func RewriteFormulaRows(formula string, resolver func(int) int) string {
	chars := []rune(formula)
	var out strings.Builder
	out.Grow(len(formula))
	inString := false
	i := 0
	for i < len(chars) {
		ch := chars[i]
		if ch == '"' {
			out.WriteRune(ch)
			if inString {
				if i+1 < len(chars) && chars[i+1] == '"' {
					out.WriteRune('"')
					i += 2
					continue
				}
				inString = false
			} else {
				inString = true
			}
			i++
			continue
		}
		if inString {
			out.WriteRune(ch)
			i++
			continue
		}
		if ch == '$' || isASCIILetter(ch) {
			if end, replaced, ok := rewriteCellRef(chars, i, resolver); ok {
				out.WriteString(replaced)
				i = end
				continue
			}
		}
		out.WriteRune(ch)
		i++
	}
	return out.String()
}

// RemapRowNumbers moves a row to newRow: the row attribute, every cell ref,
// and every formula row reference (through resolver) are rewritten.
func RemapRowNumbers(row *Row, newRow int, resolver func(int) int) {
	setAttr(&row.Attrs, "r", strconv.Itoa(newRow))
	for col, cell := range row.Cells {
		setAttr(&cell.Attrs, "r", ColName(col)+strconv.Itoa(newRow))
		if cell.HasInner {
			cell.Inner = rewriteInnerFormulaRows(cell.Inner, resolver)
		}
	}
}

// ColName converts a 1-based column number to its letter name.
func ColName(col int) string {
	if col <= 0 {
		return "A"
	}
	var rev []byte
	for col > 0 {
		rev = append(rev, byte('A'+(col-1)%26))
		col = (col - 1) / 26
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return string(rev)
}

// ColNumber converts a column letter name to its 1-based number.
func ColNumber(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	out := 0
	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch >= 'A' && ch <= 'Z':
			out = out*26 + int(ch-'A'+1)
		case ch >= 'a' && ch <= 'z':
			out = out*26 + int(ch-'a'+1)
		default:
			return 0, false
		}
	}
	return out, true
}

func rewriteInnerFormulaRows(inner string, resolver func(int) int) string {
	text, ok := FirstTagText(inner, "f")
	if !ok {
		return inner
	}
	rewritten := RewriteFormulaRows(DecodeEntities(text), resolver)
	out, _ := replaceFirstTagText(inner, "f", EscapeText(rewritten))
	return out
}

// rewriteCellRef tries to parse a cell reference starting at chars[start].
// On success it returns the index just past the reference and the rewritten
// text.
func rewriteCellRef(chars []rune, start int, resolver func(int) int) (int, string, bool) {
	i := start
	colLock := false
	if i < len(chars) && chars[i] == '$' {
		colLock = true
		i++
	}
	colStart := i
	for i < len(chars) && isASCIILetter(chars[i]) {
		i++
	}
	if i == colStart {
		return 0, "", false
	}
	colText := string(chars[colStart:i])
	if _, ok := ColNumber(colText); !ok {
		return 0, "", false
	}
	rowLock := false
	if i < len(chars) && chars[i] == '$' {
		rowLock = true
		i++
	}
	rowStart := i
	for i < len(chars) && chars[i] >= '0' && chars[i] <= '9' {
		i++
	}
	if i == rowStart {
		return 0, "", false
	}
	if start > 0 && isIdentRune(chars[start-1]) {
		return 0, "", false
	}
	if i < len(chars) && isIdentRune(chars[i]) {
		return 0, "", false
	}
	oldRow, err := strconv.Atoi(string(chars[rowStart:i]))
	if err != nil {
		return 0, "", false
	}
	var out strings.Builder
	if colLock {
		out.WriteByte('$')
	}
	out.WriteString(colText)
	if rowLock {
		out.WriteByte('$')
	}
	out.WriteString(strconv.Itoa(resolver(oldRow)))
	return i, out.String(), true
}

// extendSqrefRanges stretches each whitespace-separated range token whose
// column span intersects targetCols and whose far row sits inside the data
// band. Lock markers and reversed ranges are preserved.
func extendSqrefRanges(sqref string, lastDataRow int, targetCols []int, dataStartRow int) string {
	changed := false
	tokens := strings.Fields(sqref)
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		startRef, endRef := token, token
		if a, b, found := strings.Cut(token, ":"); found {
			startRef, endRef = a, b
		}
		start, okStart := parseRefWithLocks(startRef)
		end, okEnd := parseRefWithLocks(endRef)
		if !okStart || !okEnd {
			out = append(out, token)
			continue
		}
		colMin, colMax := start.col, end.col
		if colMin > colMax {
			colMin, colMax = colMax, colMin
		}
		rowMax := start.row
		if end.row > rowMax {
			rowMax = end.row
		}
		overlaps := false
		for _, col := range targetCols {
			if col >= colMin && col <= colMax {
				overlaps = true
				break
			}
		}
		if !overlaps || rowMax < dataStartRow || rowMax >= lastDataRow {
			out = append(out, token)
			continue
		}
		newStartRow, newEndRow := start.row, lastDataRow
		if start.row > end.row {
			newStartRow, newEndRow = lastDataRow, end.row
		}
		out = append(out, refWithLocks(start.col, newStartRow, start.colLock, start.rowLock)+":"+
			refWithLocks(end.col, newEndRow, end.colLock, end.rowLock))
		changed = true
	}
	if !changed {
		return sqref
	}
	return strings.Join(out, " ")
}

type lockedRef struct {
	col, row         int
	colLock, rowLock bool
}

func parseRefWithLocks(r string) (lockedRef, bool) {
	var ref lockedRef
	i := 0
	if i < len(r) && r[i] == '$' {
		ref.colLock = true
		i++
	}
	colStart := i
	for i < len(r) && isASCIILetter(rune(r[i])) {
		i++
	}
	if i == colStart {
		return lockedRef{}, false
	}
	col, ok := ColNumber(r[colStart:i])
	if !ok {
		return lockedRef{}, false
	}
	ref.col = col
	if i < len(r) && r[i] == '$' {
		ref.rowLock = true
		i++
	}
	rowStart := i
	for i < len(r) && r[i] >= '0' && r[i] <= '9' {
		i++
	}
	if i == rowStart || i != len(r) {
		return lockedRef{}, false
	}
	row, err := strconv.Atoi(r[rowStart:])
	if err != nil {
		return lockedRef{}, false
	}
	ref.row = row
	return ref, true
}

func refWithLocks(col, row int, colLock, rowLock bool) string {
	var out strings.Builder
	if colLock {
		out.WriteByte('$')
	}
	out.WriteString(ColName(col))
	if rowLock {
		out.WriteByte('$')
	}
	out.WriteString(strconv.Itoa(row))
	return out.String()
}

func isASCIILetter(ch rune) bool {
	return ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z'
}

func isIdentRune(ch rune) bool {
	return ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z' ||
		ch >= '0' && ch <= '9' || ch == '_' || ch == '.'
}
