package source

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/krwizxp/fcupdater/internal/ledger"
	"github.com/krwizxp/fcupdater/internal/workbook"
)

// Bounds for sheet coordinates. Anything beyond them is treated as a
// corrupt file rather than a huge sheet.
const (
	maxSheetRow = 200_000
	maxSheetCol = 1_024
)

const defaultHeaderScanRows = 200

type cellKind int

const (
	cellEmpty cellKind = iota
	cellText
	cellNumber
)

// cellValue is one evaluated cell. Formulas never appear here; source
// files carry cached values only.
type cellValue struct {
	kind cellKind
	text string
	num  float64
}

func textCell(s string) cellValue { return cellValue{kind: cellText, text: s} }

func numberCell(f float64) cellValue { return cellValue{kind: cellNumber, num: f} }

func (c cellValue) asString() string {
	switch c.kind {
	case cellText:
		return strings.TrimSpace(c.text)
	case cellNumber:
		return formatNumber(c.num)
	}
	return ""
}

func (c cellValue) asInt() (int, bool) {
	switch c.kind {
	case cellNumber:
		return workbook.RoundToInt(c.num)
	case cellText:
		return workbook.ParseInt(c.text)
	}
	return 0, false
}

// formatNumber renders integral values without a decimal point so that
// "1698" read as a number compares equal to the same header text.
func formatNumber(v float64) string {
	const (
		minInt64 = -9_223_372_036_854_775_808.0
		maxInt64 = 9_223_372_036_854_775_807.0
	)
	if !math.IsNaN(v) && !math.IsInf(v, 0) && v == math.Trunc(v) && v >= minInt64 && v <= maxInt64 {
		if v == 0 {
			return "0"
		}
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// numberedRow pairs a 1-based sheet row number with its dense cells.
type numberedRow struct {
	num   int
	cells []cellValue
}

// headerIndices holds 0-based column positions found on the header row.
// Optional columns are -1 when the source does not carry them.
type headerIndices struct {
	region   int
	name     int
	address  int
	brand    int
	phone    int
	selfYN   int
	premium  int
	gasoline int
	diesel   int
}

// parseHeaderIndices matches known header keywords ignoring whitespace.
// Region, name and address are all required for a row to count as the
// header.
func parseHeaderIndices(row []cellValue) (headerIndices, bool) {
	idx := headerIndices{
		region: -1, name: -1, address: -1,
		brand: -1, phone: -1, selfYN: -1,
		premium: -1, gasoline: -1, diesel: -1,
	}
	for i, cell := range row {
		switch ledger.CanonHeader(cell.asString()) {
		case "지역":
			idx.region = i
		case "상호":
			idx.name = i
		case "주소":
			idx.address = i
		case "상표":
			idx.brand = i
		case "전화번호", "전화":
			idx.phone = i
		case "셀프여부", "셀프":
			idx.selfYN = i
		case "고급휘발유", "고급유":
			idx.premium = i
		case "휘발유", "보통휘발유":
			idx.gasoline = i
		case "경유":
			idx.diesel = i
		}
	}
	if idx.name < 0 || idx.address < 0 || idx.region < 0 {
		return headerIndices{}, false
	}
	return idx, true
}

// buildRecordsFromRows locates the header row within the scan window and
// converts every following row into a record.
func buildRecordsFromRows(rows []numberedRow) ([]ledger.SourceRecord, error) {
	headerPos := -1
	var indices headerIndices
	scanLimit := headerScanRows()
	for i, row := range rows {
		if i >= scanLimit {
			break
		}
		if idx, ok := parseHeaderIndices(row.cells); ok {
			headerPos = i
			indices = idx
			break
		}
	}
	if headerPos < 0 {
		return nil, ErrHeaderNotFound
	}
	var out []ledger.SourceRecord
	for _, row := range rows[headerPos+1:] {
		if rec, ok := buildRecordFromRow(row.cells, indices); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// buildRecordFromRow skips rows without an address; those are headers
// repeated for printing, totals, or footnotes.
func buildRecordFromRow(row []cellValue, idx headerIndices) (ledger.SourceRecord, bool) {
	name := rowString(row, idx.name)
	address := rowString(row, idx.address)
	if strings.TrimSpace(name) == "" && strings.TrimSpace(address) == "" {
		return ledger.SourceRecord{}, false
	}
	if strings.TrimSpace(address) == "" {
		return ledger.SourceRecord{}, false
	}
	return ledger.SourceRecord{
		Region:   rowString(row, idx.region),
		Name:     name,
		Brand:    rowString(row, idx.brand),
		SelfYN:   rowString(row, idx.selfYN),
		Address:  address,
		Phone:    rowString(row, idx.phone),
		Gasoline: rowInt(row, idx.gasoline),
		Premium:  rowInt(row, idx.premium),
		Diesel:   rowInt(row, idx.diesel),
	}, true
}

func rowString(row []cellValue, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx].asString()
}

func rowInt(row []cellValue, idx int) *int {
	if idx < 0 || idx >= len(row) {
		return nil
	}
	if v, ok := row[idx].asInt(); ok {
		return &v
	}
	return nil
}

func headerScanRows() int {
	return workbook.EnvScanLimit("FCUPDATER_SOURCE_HEADER_SCAN_ROWS", defaultHeaderScanRows, 10_000)
}

func validateCellBounds(row, col int) error {
	if row == 0 || row > maxSheetRow {
		return fmt.Errorf("%w: row %d (max %d)", ErrCellOutOfBounds, row, maxSheetRow)
	}
	if col >= maxSheetCol {
		return fmt.Errorf("%w: column %d", ErrCellOutOfBounds, col+1)
	}
	return nil
}
