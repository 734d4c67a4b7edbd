package workbook

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Error types
var (
	ErrMalformedSheet = errors.New("malformed worksheet xml")
	ErrMalformedTag   = errors.New("malformed xml tag")
	ErrPartNotFound   = errors.New("archive part not found")
	ErrInvalidFormat  = errors.New("invalid xlsx format")
)

// Attr is a single XML attribute. Order within a tag is canonicalized on
// serialization, so attrs are kept as a slice, not a map.
type Attr struct {
	Name  string
	Value string
}

// Cell is one <c> element. Inner holds the raw body XML between the open
// and close tags; HasInner distinguishes an empty body from a self-closing
// tag, which must round-trip as written.
type Cell struct {
	Attrs    []Attr
	Inner    string
	HasInner bool
}

// Row is one <row> element with its cells keyed by 1-based column.
type Row struct {
	Attrs []Attr
	Cells map[int]*Cell
}

// Clone deep-copies the row, its attributes and its cells.
func (r *Row) Clone() *Row {
	return cloneRow(r)
}

// Worksheet is the byte-faithful model of one sheet part: everything before
// the first row, the rows keyed by 1-based number, and everything from
// </sheetData> onward. Regions outside Rows are only ever edited through
// UpdateDimension and ExtendConditionalFormats.
type Worksheet struct {
	Prefix string
	Suffix string
	Rows   map[int]*Row
}

// ParseWorksheet splits sheet XML at the sheetData element and parses the
// row/cell structure inside it.
func ParseWorksheet(xml string) (*Worksheet, error) {
	open := FindStartTag(xml, "sheetData", 0)
	if open < 0 {
		return nil, fmt.Errorf("%w: missing <sheetData>", ErrMalformedSheet)
	}
	openEnd := TagEnd(xml, open)
	if openEnd < 0 {
		return nil, fmt.Errorf("%w: unterminated <sheetData> tag", ErrMalformedSheet)
	}
	bodyStart := openEnd + 1
	closeIdx := FindEndTag(xml, "sheetData", bodyStart)
	if closeIdx < 0 {
		return nil, fmt.Errorf("%w: missing </sheetData>", ErrMalformedSheet)
	}
	rows, err := parseSheetDataRows(xml[bodyStart:closeIdx])
	if err != nil {
		return nil, err
	}
	return &Worksheet{
		Prefix: xml[:bodyStart],
		Suffix: xml[closeIdx:],
		Rows:   rows,
	}, nil
}

// XML serializes the worksheet back to part text. Rows are emitted in
// ascending order with canonical attribute ordering; the prefix and suffix
// are emitted verbatim.
func (ws *Worksheet) XML() string {
	var out strings.Builder
	out.WriteString(ws.Prefix)
	for _, num := range ws.RowNumbers() {
		writeRowXML(&out, ws.Rows[num])
	}
	out.WriteString(ws.Suffix)
	return out.String()
}

// RowNumbers returns the present row numbers in ascending order.
func (ws *Worksheet) RowNumbers() []int {
	nums := make([]int, 0, len(ws.Rows))
	for num := range ws.Rows {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	return nums
}

// DisplayAt returns the display text of a cell, resolving shared-string and
// boolean cells. Missing rows and cells read as empty.
func (ws *Worksheet) DisplayAt(col, row int, sharedStrings []string) string {
	rowObj, ok := ws.Rows[row]
	if !ok {
		return ""
	}
	cell, ok := rowObj.Cells[col]
	if !ok {
		return ""
	}
	return cellDisplayValue(cell, sharedStrings)
}

// IntAt reads a cell as an integer using ParseInt semantics.
func (ws *Worksheet) IntAt(col, row int, sharedStrings []string) (int, bool) {
	return ParseInt(ws.DisplayAt(col, row, sharedStrings))
}

// SetStringAt writes an inline string cell.
func (ws *Worksheet) SetStringAt(col, row int, value string) {
	cell := ws.cellAt(col, row)
	setAttr(&cell.Attrs, "t", "inlineStr")
	text := EscapeText(value)
	if needsSpacePreserve(value) {
		cell.Inner = `<is><t xml:space="preserve">` + text + `</t></is>`
	} else {
		cell.Inner = "<is><t>" + text + "</t></is>"
	}
	cell.HasInner = true
}

// SetIntAt writes a numeric cell, or clears the value when value is nil.
// The style attribute is left alone so number formatting survives.
func (ws *Worksheet) SetIntAt(col, row int, value *int) {
	cell := ws.cellAt(col, row)
	removeAttr(&cell.Attrs, "t")
	if value != nil {
		cell.Inner = "<v>" + strconv.Itoa(*value) + "</v>"
		cell.HasInner = true
	} else {
		cell.Inner = ""
		cell.HasInner = false
	}
}

// SetFormulaAt replaces the cell's formula text, keeping any cached <v>
// but blanking it so the next recalculation refreshes it.
func (ws *Worksheet) SetFormulaAt(col, row int, formula string) {
	cell := ws.cellAt(col, row)
	text := EscapeText(formula)
	if cell.HasInner {
		if replaced, ok := replaceFirstTagText(cell.Inner, "f", text); ok {
			if blanked, ok := replaceFirstTagText(replaced, "v", ""); ok {
				replaced = blanked
			} else if !strings.Contains(replaced, "<v") {
				replaced += "<v></v>"
			}
			cell.Inner = replaced
			return
		}
	}
	cell.Inner = "<f>" + text + "</f><v></v>"
	cell.HasInner = true
}

// ClearCellAt blanks an existing cell's value and type, keeping its style.
// Missing cells stay missing.
func (ws *Worksheet) ClearCellAt(col, row int) {
	rowObj, ok := ws.Rows[row]
	if !ok {
		return
	}
	cell, ok := rowObj.Cells[col]
	if !ok {
		return
	}
	removeAttr(&cell.Attrs, "t")
	cell.Inner = ""
	cell.HasInner = false
}

// HasRowFormat reports whether a row carries any formatting signal: row
// attributes or any cell in the first maxCol columns.
func (ws *Worksheet) HasRowFormat(row, maxCol int) bool {
	rowObj, ok := ws.Rows[row]
	if !ok {
		return false
	}
	if len(rowObj.Attrs) > 0 {
		return true
	}
	for col := 1; col <= maxCol; col++ {
		if _, ok := rowObj.Cells[col]; ok {
			return true
		}
	}
	return false
}

// RowHasData reports whether any of the given columns holds non-blank text.
func (ws *Worksheet) RowHasData(row int, cols []int, sharedStrings []string) bool {
	for _, col := range cols {
		if strings.TrimSpace(ws.DisplayAt(col, row, sharedStrings)) != "" {
			return true
		}
	}
	return false
}

// CloneRowStyle copies a template row's formatting onto targetRow: cell
// styles and formulas survive, plain values are cleared, and any formula
// references to the template row are retargeted.
func (ws *Worksheet) CloneRowStyle(sourceRow, targetRow, maxCol int) {
	src, ok := ws.Rows[sourceRow]
	if !ok {
		return
	}
	cloned := cloneRow(src)
	RemapRowNumbers(cloned, targetRow, func(r int) int {
		if r == sourceRow {
			return targetRow
		}
		return r
	})
	for col := range cloned.Cells {
		if col > maxCol {
			delete(cloned.Cells, col)
		}
	}
	for _, cell := range cloned.Cells {
		clearClonedCellValue(cell)
	}
	ws.Rows[targetRow] = cloned
}

// MaxCol returns the highest populated column, minimum 1.
func (ws *Worksheet) MaxCol() int {
	max := 1
	for _, row := range ws.Rows {
		for col := range row.Cells {
			if col > max {
				max = col
			}
		}
	}
	return max
}

// MaxRow returns the highest populated row, minimum 1.
func (ws *Worksheet) MaxRow() int {
	max := 1
	for num := range ws.Rows {
		if num > max {
			max = num
		}
	}
	return max
}

// UpdateDimension rewrites the <dimension> element in the prefix to
// A1:<max cell>. Sheets without a dimension element are left alone. The
// element may be self-closing or paired; either form is replaced by a
// single self-closing tag.
func (ws *Worksheet) UpdateDimension() error {
	endRef := ColName(ws.MaxCol()) + strconv.Itoa(ws.MaxRow())
	dimPos := strings.Index(ws.Prefix, "<dimension")
	if dimPos < 0 {
		return nil
	}
	dimEnd := TagEnd(ws.Prefix, dimPos)
	if dimEnd < 0 {
		return fmt.Errorf("%w: unterminated <dimension> tag", ErrMalformedSheet)
	}
	tag := ws.Prefix[dimPos : dimEnd+1]
	attrs, err := parseTagAttrs(tag)
	if err != nil {
		return err
	}
	setAttr(&attrs, "ref", "A1:"+endRef)
	restStart := dimEnd + 1
	if !strings.HasSuffix(tag, "/>") {
		closeIdx := FindEndTag(ws.Prefix, "dimension", restStart)
		if closeIdx < 0 {
			return fmt.Errorf("%w: missing </dimension>", ErrMalformedSheet)
		}
		closeEnd := TagEnd(ws.Prefix, closeIdx)
		if closeEnd < 0 {
			return fmt.Errorf("%w: unterminated </dimension> tag", ErrMalformedSheet)
		}
		restStart = closeEnd + 1
	}
	ws.Prefix = ws.Prefix[:dimPos] + "<dimension" + attrsXML(attrs) + "/>" + ws.Prefix[restStart:]
	return nil
}

// ExtendConditionalFormats stretches conditionalFormatting sqref ranges in
// the suffix down to lastDataRow when they cover any of the target columns
// and currently end inside the data band.
func (ws *Worksheet) ExtendConditionalFormats(lastDataRow int, targetCols []int, dataStartRow int) error {
	if len(targetCols) == 0 {
		return nil
	}
	out := ws.Suffix
	cursor := 0
	for {
		rel := strings.Index(out[cursor:], "<conditionalFormatting")
		if rel < 0 {
			break
		}
		cfStart := cursor + rel
		cfEnd := TagEnd(out, cfStart)
		if cfEnd < 0 {
			break
		}
		tag := out[cfStart : cfEnd+1]
		attrs, err := parseTagAttrs(tag)
		if err != nil {
			return err
		}
		sqref, ok := getAttr(attrs, "sqref")
		if !ok {
			cursor = cfEnd + 1
			continue
		}
		updated := extendSqrefRanges(sqref, lastDataRow, targetCols, dataStartRow)
		if updated == sqref {
			cursor = cfEnd + 1
			continue
		}
		setAttr(&attrs, "sqref", updated)
		newTag := "<conditionalFormatting" + attrsXML(attrs) + ">"
		out = out[:cfStart] + newTag + out[cfEnd+1:]
		cursor = cfStart + len(newTag)
	}
	ws.Suffix = out
	return nil
}

// cellAt returns the cell, creating the row and cell as needed. New cells
// get a default style so they serialize cleanly.
func (ws *Worksheet) cellAt(col, row int) *Cell {
	rowObj, ok := ws.Rows[row]
	if !ok {
		rowObj = &Row{
			Attrs: []Attr{{Name: "r", Value: strconv.Itoa(row)}},
			Cells: map[int]*Cell{},
		}
		ws.Rows[row] = rowObj
	}
	if _, ok := getAttr(rowObj.Attrs, "r"); !ok {
		setAttr(&rowObj.Attrs, "r", strconv.Itoa(row))
	}
	cell, ok := rowObj.Cells[col]
	if !ok {
		cell = &Cell{
			Attrs: []Attr{
				{Name: "r", Value: ColName(col) + strconv.Itoa(row)},
				{Name: "s", Value: "0"},
			},
		}
		rowObj.Cells[col] = cell
	}
	return cell
}

// ParseInt parses display text as an integer. Blank and "-" read as
// absent; thousands separators are stripped; fractional values round
// half-away-from-zero; values outside int32 are rejected.
func ParseInt(s string) (int, bool) {
	t := strings.TrimSpace(s)
	if t == "" || t == "-" {
		return 0, false
	}
	t = strings.ReplaceAll(t, ",", "")
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, false
	}
	return RoundToInt(f)
}

// RoundToInt rounds half away from zero and rejects values outside the
// signed 32-bit range.
func RoundToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	rounded := math.Round(f)
	if rounded < -2147483648 || rounded > 2147483647 {
		return 0, false
	}
	return int(rounded), true
}

func parseSheetDataRows(body string) (map[int]*Row, error) {
	rows := map[int]*Row{}
	lastRow := 0
	cursor := 0
	for {
		rel := strings.Index(body[cursor:], "<row")
		if rel < 0 {
			break
		}
		rowOpen := cursor + rel
		rowTagEnd := TagEnd(body, rowOpen)
		if rowTagEnd < 0 {
			return nil, fmt.Errorf("%w: unterminated <row> tag at offset %d", ErrMalformedSheet, rowOpen)
		}
		rowTag := body[rowOpen : rowTagEnd+1]
		attrs, err := parseTagAttrs(rowTag)
		if err != nil {
			return nil, err
		}
		rowNum := 0
		if v, ok := getAttr(attrs, "r"); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				rowNum = n
			}
		}
		if rowNum == 0 {
			rowNum = lastRow + 1
		}
		setAttr(&attrs, "r", strconv.Itoa(rowNum))
		row := &Row{Attrs: attrs, Cells: map[int]*Cell{}}
		if strings.HasSuffix(rowTag, "/>") {
			rows[rowNum] = row
			if rowNum > lastRow {
				lastRow = rowNum
			}
			cursor = rowTagEnd + 1
			continue
		}
		bodyStart := rowTagEnd + 1
		closeRel := strings.Index(body[bodyStart:], "</row>")
		if closeRel < 0 {
			return nil, fmt.Errorf("%w: missing </row> for row %d", ErrMalformedSheet, rowNum)
		}
		if err := parseRowCells(body[bodyStart:bodyStart+closeRel], rowNum, row); err != nil {
			return nil, err
		}
		rows[rowNum] = row
		if rowNum > lastRow {
			lastRow = rowNum
		}
		cursor = bodyStart + closeRel + len("</row>")
	}
	return rows, nil
}

func parseRowCells(rowBody string, rowNum int, row *Row) error {
	cursor := 0
	nextCol := 1
	for {
		rel := strings.Index(rowBody[cursor:], "<c")
		if rel < 0 {
			return nil
		}
		cellOpen := cursor + rel
		cellTagEnd := TagEnd(rowBody, cellOpen)
		if cellTagEnd < 0 {
			return fmt.Errorf("%w: unterminated <c> tag in row %d", ErrMalformedSheet, rowNum)
		}
		cellTag := rowBody[cellOpen : cellTagEnd+1]
		attrs, err := parseTagAttrs(cellTag)
		if err != nil {
			return err
		}
		col := nextCol
		if ref, ok := getAttr(attrs, "r"); ok {
			if c, _, ok := parseCellRef(ref); ok {
				col = c
			}
		}
		setAttr(&attrs, "r", ColName(col)+strconv.Itoa(rowNum))
		cell := &Cell{Attrs: attrs}
		if !strings.HasSuffix(cellTag, "/>") {
			bodyStart := cellTagEnd + 1
			closeRel := strings.Index(rowBody[bodyStart:], "</c>")
			if closeRel < 0 {
				return fmt.Errorf("%w: missing </c> in row %d col %d", ErrMalformedSheet, rowNum, col)
			}
			cell.Inner = rowBody[bodyStart : bodyStart+closeRel]
			cell.HasInner = true
			cursor = bodyStart + closeRel + len("</c>")
		} else {
			cursor = cellTagEnd + 1
		}
		row.Cells[col] = cell
		nextCol = col + 1
	}
}

func writeRowXML(out *strings.Builder, row *Row) {
	attrs := sortedAttrs(row.Attrs)
	out.WriteString("<row")
	out.WriteString(attrsXML(attrs))
	if len(row.Cells) == 0 {
		out.WriteString("/>")
		return
	}
	out.WriteString(">")
	cols := make([]int, 0, len(row.Cells))
	for col := range row.Cells {
		cols = append(cols, col)
	}
	sort.Ints(cols)
	for _, col := range cols {
		writeCellXML(out, row.Cells[col])
	}
	out.WriteString("</row>")
}

func writeCellXML(out *strings.Builder, cell *Cell) {
	attrs := sortedAttrs(cell.Attrs)
	out.WriteString("<c")
	out.WriteString(attrsXML(attrs))
	if cell.HasInner {
		out.WriteString(">")
		out.WriteString(cell.Inner)
		out.WriteString("</c>")
	} else {
		out.WriteString("/>")
	}
}

func cloneRow(src *Row) *Row {
	cloned := &Row{
		Attrs: append([]Attr(nil), src.Attrs...),
		Cells: make(map[int]*Cell, len(src.Cells)),
	}
	for col, cell := range src.Cells {
		cloned.Cells[col] = &Cell{
			Attrs:    append([]Attr(nil), cell.Attrs...),
			Inner:    cell.Inner,
			HasInner: cell.HasInner,
		}
	}
	return cloned
}

// clearClonedCellValue keeps formula cells (blanking the cached value) and
// strips everything else down to bare styled cells.
func clearClonedCellValue(cell *Cell) {
	if !cell.HasInner {
		removeAttr(&cell.Attrs, "t")
		return
	}
	if _, ok := FirstTagText(cell.Inner, "f"); ok {
		if replaced, ok := replaceFirstTagText(cell.Inner, "v", ""); ok {
			cell.Inner = replaced
		} else if !strings.Contains(cell.Inner, "<v") {
			cell.Inner += "<v></v>"
		}
		return
	}
	removeAttr(&cell.Attrs, "t")
	cell.Inner = ""
	cell.HasInner = false
}

func cellDisplayValue(cell *Cell, sharedStrings []string) string {
	cellType, _ := getAttr(cell.Attrs, "t")
	inner := ""
	if cell.HasInner {
		inner = cell.Inner
	}
	if cellType == "inlineStr" {
		text, ok := AllTagText(inner, "t")
		if !ok {
			return ""
		}
		return DecodeEntities(text)
	}
	rawV, _ := FirstTagText(inner, "v")
	decoded := DecodeEntities(rawV)
	switch cellType {
	case "s":
		idx, err := strconv.Atoi(decoded)
		if err != nil || idx < 0 || idx >= len(sharedStrings) {
			return ""
		}
		return sharedStrings[idx]
	case "b":
		if decoded == "1" {
			return "TRUE"
		}
		return "FALSE"
	}
	return decoded
}

func replaceFirstTagText(xml, tagName, newText string) (string, bool) {
	openStart := strings.Index(xml, "<"+tagName)
	if openStart < 0 {
		return xml, false
	}
	openEnd := TagEnd(xml, openStart)
	if openEnd < 0 {
		return xml, false
	}
	contentStart := openEnd + 1
	closeRel := strings.Index(xml[contentStart:], "</"+tagName+">")
	if closeRel < 0 {
		return xml, false
	}
	return xml[:contentStart] + newText + xml[contentStart+closeRel:], true
}

func needsSpacePreserve(s string) bool {
	return strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") || strings.Contains(s, "  ")
}

func sortedAttrs(attrs []Attr) []Attr {
	out := append([]Attr(nil), attrs...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := attrRank(out[i].Name), attrRank(out[j].Name)
		if ri != rj {
			return ri < rj
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// r, s, t first so cell tags always serialize as <c r=".." s=".." t="..">.
func attrRank(name string) int {
	switch name {
	case "r":
		return 0
	case "s":
		return 1
	case "t":
		return 2
	}
	return 3
}

func attrsXML(attrs []Attr) string {
	var out strings.Builder
	for _, a := range attrs {
		out.WriteByte(' ')
		out.WriteString(a.Name)
		out.WriteString(`="`)
		out.WriteString(EscapeAttr(a.Value))
		out.WriteByte('"')
	}
	return out.String()
}

func parseTagAttrs(tag string) ([]Attr, error) {
	lt := strings.IndexByte(tag, '<')
	if lt < 0 {
		return nil, fmt.Errorf("%w: no '<' in %q", ErrMalformedTag, tag)
	}
	i := lt + 1
	for i < len(tag) && !isXMLSpace(tag[i]) && tag[i] != '>' && tag[i] != '/' {
		i++
	}
	if i >= len(tag) {
		return nil, fmt.Errorf("%w: unterminated tag %q", ErrMalformedTag, tag)
	}
	var out []Attr
	for i < len(tag) {
		for i < len(tag) && isXMLSpace(tag[i]) {
			i++
		}
		if i >= len(tag) || tag[i] == '>' || tag[i] == '/' {
			break
		}
		keyStart := i
		for i < len(tag) && !isXMLSpace(tag[i]) && tag[i] != '=' && tag[i] != '>' && tag[i] != '/' {
			i++
		}
		keyEnd := i
		if keyStart == keyEnd {
			return nil, fmt.Errorf("%w: empty attribute name in %q", ErrMalformedTag, tag)
		}
		for i < len(tag) && isXMLSpace(tag[i]) {
			i++
		}
		if i >= len(tag) || tag[i] != '=' {
			return nil, fmt.Errorf("%w: expected '=' in %q", ErrMalformedTag, tag)
		}
		i++
		for i < len(tag) && isXMLSpace(tag[i]) {
			i++
		}
		if i >= len(tag) || (tag[i] != '"' && tag[i] != '\'') {
			return nil, fmt.Errorf("%w: attribute value must be quoted in %q", ErrMalformedTag, tag)
		}
		quote := tag[i]
		i++
		valueStart := i
		for i < len(tag) && tag[i] != quote {
			i++
		}
		if i >= len(tag) {
			return nil, fmt.Errorf("%w: unclosed quote in %q", ErrMalformedTag, tag)
		}
		out = append(out, Attr{Name: tag[keyStart:keyEnd], Value: DecodeEntities(tag[valueStart:i])})
		i++
	}
	return out, nil
}

func getAttr(attrs []Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func setAttr(attrs *[]Attr, name, value string) {
	for i := range *attrs {
		if (*attrs)[i].Name == name {
			(*attrs)[i].Value = value
			return
		}
	}
	*attrs = append(*attrs, Attr{Name: name, Value: value})
}

func removeAttr(attrs *[]Attr, name string) {
	out := (*attrs)[:0]
	for _, a := range *attrs {
		if a.Name != name {
			out = append(out, a)
		}
	}
	*attrs = out
}

// parseCellRef splits a ref like "$B$7" into 1-based column and row.
func parseCellRef(ref string) (col, row int, ok bool) {
	var colPart, rowPart strings.Builder
	for _, ch := range ref {
		switch {
		case ch == '$':
		case ch >= 'A' && ch <= 'Z' || ch >= 'a' && ch <= 'z':
			if rowPart.Len() > 0 {
				return 0, 0, false
			}
			colPart.WriteRune(ch)
		case ch >= '0' && ch <= '9':
			rowPart.WriteRune(ch)
		default:
			return 0, 0, false
		}
	}
	col, ok = ColNumber(colPart.String())
	if !ok {
		return 0, 0, false
	}
	row, err := strconv.Atoi(rowPart.String())
	if err != nil || row < 1 {
		return 0, 0, false
	}
	return col, row, true
}
