package source

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/krwizxp/fcupdater/internal/ledger"
	"github.com/krwizxp/fcupdater/internal/workbook"
)

func readXLSXSource(path string) ([]ledger.SourceRecord, error) {
	container, err := workbook.OpenContainer(path)
	if err != nil {
		return nil, err
	}
	catalog, err := workbook.LoadSheetCatalog(container)
	if err != nil {
		return nil, err
	}
	shared, err := workbook.LoadSharedStrings(container)
	if err != nil {
		return nil, err
	}
	var all []ledger.SourceRecord
	var lastErr error
	for _, sheetName := range catalog.Order {
		sheetXML, err := container.ReadText(catalog.PathByName[sheetName])
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		records, err := parseSheetRecords(sheetXML, shared)
		switch {
		case err != nil:
			lastErr = err
		case len(records) > 0:
			all = append(all, records...)
		}
	}
	if len(all) > 0 {
		return all, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w (%v)", ErrNoSourceData, lastErr)
	}
	return nil, ErrNoSourceData
}

// parseSheetRecords scans the sheet in streaming order first; the row
// collecting fallback handles sheets whose rows arrive out of order.
func parseSheetRecords(sheetXML string, shared []string) ([]ledger.SourceRecord, error) {
	records, streamErr := buildRecordsStreaming(sheetXML, shared)
	if streamErr == nil {
		return records, nil
	}
	rows, err := collectSheetRows(sheetXML, shared)
	if err != nil {
		return nil, fmt.Errorf("streaming parse failed: %v; row parse failed: %w", streamErr, err)
	}
	records, err = buildRecordsFromRows(rows)
	if err != nil {
		return nil, fmt.Errorf("streaming parse failed: %v; row parse failed: %w", streamErr, err)
	}
	return records, nil
}

func buildRecordsStreaming(sheetXML string, shared []string) ([]ledger.SourceRecord, error) {
	var out []ledger.SourceRecord
	scanned := 0
	scanLimit := headerScanRows()
	var indices headerIndices
	haveHeader := false
	err := scanSheetRows(sheetXML, shared, func(_ int, cells []cellValue) error {
		if !haveHeader {
			if scanned >= scanLimit {
				return nil
			}
			if idx, ok := parseHeaderIndices(cells); ok {
				indices = idx
				haveHeader = true
			}
			scanned++
			return nil
		}
		if rec, ok := buildRecordFromRow(cells, indices); ok {
			out = append(out, rec)
		}
		scanned++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !haveHeader {
		return nil, ErrHeaderNotFound
	}
	return out, nil
}

// collectSheetRows gathers every row keyed by its declared number and
// returns them in ascending order.
func collectSheetRows(sheetXML string, shared []string) ([]numberedRow, error) {
	byNum := map[int][]cellValue{}
	err := scanSheetRows(sheetXML, shared, func(rowNum int, cells []cellValue) error {
		byNum[rowNum] = cells
		return nil
	})
	if err != nil {
		return nil, err
	}
	nums := make([]int, 0, len(byNum))
	for n := range byNum {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	rows := make([]numberedRow, 0, len(nums))
	for _, n := range nums {
		rows = append(rows, numberedRow{num: n, cells: byNum[n]})
	}
	return rows, nil
}

// scanSheetRows walks <row> elements inside <sheetData> in document
// order. Rows with no r attribute continue from the previous number;
// row 0 is skipped.
func scanSheetRows(sheetXML string, shared []string, fn func(rowNum int, cells []cellValue) error) error {
	body, err := sheetDataBody(sheetXML)
	if err != nil {
		return err
	}
	cursor := 0
	nextRowNum := 1
	for {
		rel := strings.Index(body[cursor:], "<row")
		if rel < 0 {
			return nil
		}
		rowOpen := cursor + rel
		tagEndRel := strings.IndexByte(body[rowOpen:], '>')
		if tagEndRel < 0 {
			return fmt.Errorf("%w: unterminated row tag at offset %d", ErrMalformedSheet, rowOpen)
		}
		rowTagEnd := rowOpen + tagEndRel
		rowTag := body[rowOpen : rowTagEnd+1]
		rowNum := nextRowNum
		if r, ok := workbook.ExtractAttr(rowTag, "r"); ok {
			if n, err := strconv.Atoi(r); err == nil && n >= 0 {
				rowNum = n
			}
		}
		if rowNum > maxSheetRow {
			return fmt.Errorf("%w: row %d (max %d)", ErrCellOutOfBounds, rowNum, maxSheetRow)
		}
		if rowNum == 0 {
			cursor = rowTagEnd + 1
			continue
		}
		var cells []cellValue
		if strings.HasSuffix(rowTag, "/>") {
			cursor = rowTagEnd + 1
		} else {
			bodyStart := rowTagEnd + 1
			closeRel := strings.Index(body[bodyStart:], "</row>")
			if closeRel < 0 {
				return fmt.Errorf("%w: missing </row> for row %d", ErrMalformedSheet, rowNum)
			}
			bodyEnd := bodyStart + closeRel
			cells, err = parseRowCellValues(body[bodyStart:bodyEnd], rowNum, shared)
			if err != nil {
				return err
			}
			cursor = bodyEnd + len("</row>")
		}
		nextRowNum = rowNum + 1
		if err := fn(rowNum, cells); err != nil {
			return err
		}
	}
}

func sheetDataBody(sheetXML string) (string, error) {
	open := workbook.FindStartTag(sheetXML, "sheetData", 0)
	if open < 0 {
		return "", fmt.Errorf("%w: missing <sheetData>", ErrMalformedSheet)
	}
	openEnd := workbook.TagEnd(sheetXML, open)
	if openEnd < 0 {
		return "", fmt.Errorf("%w: unterminated <sheetData> tag", ErrMalformedSheet)
	}
	bodyStart := openEnd + 1
	closePos := workbook.FindEndTag(sheetXML, "sheetData", bodyStart)
	if closePos < 0 {
		return "", fmt.Errorf("%w: missing </sheetData>", ErrMalformedSheet)
	}
	return sheetXML[bodyStart:closePos], nil
}

func parseRowCellValues(rowXML string, rowNum int, shared []string) ([]cellValue, error) {
	var cells []cellValue
	cursor := 0
	nextCol := 0
	for {
		rel := strings.Index(rowXML[cursor:], "<c")
		if rel < 0 {
			return cells, nil
		}
		cellOpen := cursor + rel
		tagEndRel := strings.IndexByte(rowXML[cellOpen:], '>')
		if tagEndRel < 0 {
			return nil, fmt.Errorf("%w: unterminated cell tag in row %d", ErrMalformedSheet, rowNum)
		}
		cellTagEnd := cellOpen + tagEndRel
		cellTag := rowXML[cellOpen : cellTagEnd+1]
		colIndex := nextCol
		if ref, ok := workbook.ExtractAttr(cellTag, "r"); ok {
			if c, ok := cellRefToColIndex(ref); ok {
				colIndex = c
			}
		}
		if colIndex >= maxSheetCol {
			return nil, fmt.Errorf("%w: column %d", ErrCellOutOfBounds, colIndex+1)
		}
		for len(cells) <= colIndex {
			cells = append(cells, cellValue{})
		}
		if strings.HasSuffix(cellTag, "/>") {
			cells[colIndex] = cellValue{}
			nextCol = colIndex + 1
			cursor = cellTagEnd + 1
			continue
		}
		bodyStart := cellTagEnd + 1
		closeRel := strings.Index(rowXML[bodyStart:], "</c>")
		if closeRel < 0 {
			return nil, fmt.Errorf("%w: missing </c> at row %d col %d", ErrMalformedSheet, rowNum, colIndex+1)
		}
		bodyEnd := bodyStart + closeRel
		cells[colIndex] = parseCellValue(cellTag, rowXML[bodyStart:bodyEnd], shared)
		nextCol = colIndex + 1
		cursor = bodyEnd + len("</c>")
	}
}

func parseCellValue(cellTag, cellBody string, shared []string) cellValue {
	cellType, _ := workbook.ExtractAttr(cellTag, "t")
	if cellType == "inlineStr" {
		if v, ok := workbook.AllTagText(cellBody, "t"); ok {
			return textCell(workbook.DecodeEntities(v))
		}
	}
	raw, ok := workbook.FirstTagText(cellBody, "v")
	if !ok {
		return cellValue{}
	}
	decoded := workbook.DecodeEntities(raw)
	switch cellType {
	case "s":
		if idx, err := strconv.Atoi(decoded); err == nil && idx >= 0 && idx < len(shared) {
			return textCell(shared[idx])
		}
		return textCell(decoded)
	case "b":
		if decoded == "1" {
			return textCell("TRUE")
		}
		return textCell("FALSE")
	case "str":
		return textCell(decoded)
	}
	if n, err := strconv.ParseFloat(decoded, 64); err == nil {
		return numberCell(n)
	}
	return textCell(decoded)
}

// cellRefToColIndex converts the letter run of a cell reference like
// "C7" to a 0-based column index.
func cellRefToColIndex(ref string) (int, bool) {
	col := 0
	hasAlpha := false
	for i := 0; i < len(ref); i++ {
		ch := ref[i]
		if ch >= 'a' && ch <= 'z' {
			ch -= 'a' - 'A'
		}
		if ch < 'A' || ch > 'Z' {
			break
		}
		hasAlpha = true
		col = col*26 + int(ch-'A'+1)
		if col > maxSheetCol*26 {
			return 0, false
		}
	}
	if !hasAlpha {
		return 0, false
	}
	return col - 1, true
}
