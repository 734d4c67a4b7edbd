package ledger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/krwizxp/fcupdater/internal/workbook"
)

// ChangeLogSheetName is where reconciliation history is written.
const ChangeLogSheetName = "변경내역"

// changeLogLayout maps the change log sheet's header columns. Delta
// columns are optional; 0 means absent.
type changeLogLayout struct {
	dataStartRow    int
	colRegion       int
	colName         int
	colAddress      int
	colReason       int
	colOldGas       int
	colNewGas       int
	colDeltaGas     int
	colOldPremium   int
	colNewPremium   int
	colDeltaPremium int
	colOldDiesel    int
	colNewDiesel    int
	colDeltaDiesel  int
	maxCol          int
}

type changeLogEntry struct {
	reason      string
	region      string
	name        string
	address     string
	oldGasoline *int
	newGasoline *int
	oldPremium  *int
	newPremium  *int
	oldDiesel   *int
	newDiesel   *int
}

// UpdateChangeLog rewrites the 변경내역 sheet: the previous entries are
// cleared, today's stamp is set, and changed, added and deleted rows are
// written with delta formulas where the sheet carries delta columns.
func UpdateChangeLog(wb *workbook.Workbook, today string, changes []ChangeRow, added, deleted []StoreRow) error {
	ws, ok := wb.Sheet(ChangeLogSheetName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChangeLogSheetMissing, ChangeLogSheetName)
	}
	shared := wb.SharedStrings()
	ws.SetStringAt(1, 2, "현행화 일자: "+today)
	layout, err := findChangeLogLayout(ws, shared)
	if err != nil {
		return err
	}
	styleTemplateRow := pickStyleTemplateRow(ws, layout.maxCol, layout.dataStartRow)
	clearPreviousEntries(ws, layout, shared)

	entries := buildChangeLogEntries(changes, added, deleted)
	oldGasCol := workbook.ColName(layout.colOldGas)
	newGasCol := workbook.ColName(layout.colNewGas)
	oldPremiumCol := workbook.ColName(layout.colOldPremium)
	newPremiumCol := workbook.ColName(layout.colNewPremium)
	oldDieselCol := workbook.ColName(layout.colOldDiesel)
	newDieselCol := workbook.ColName(layout.colNewDiesel)
	for i, entry := range entries {
		row := layout.dataStartRow + i
		if row > styleTemplateRow {
			ws.CloneRowStyle(styleTemplateRow, row, layout.maxCol)
		}
		ws.SetStringAt(layout.colRegion, row, entry.region)
		ws.SetStringAt(layout.colName, row, entry.name)
		ws.SetStringAt(layout.colAddress, row, entry.address)
		ws.SetStringAt(layout.colReason, row, entry.reason)
		ws.SetIntAt(layout.colOldGas, row, entry.oldGasoline)
		ws.SetIntAt(layout.colNewGas, row, entry.newGasoline)
		ws.SetIntAt(layout.colOldPremium, row, entry.oldPremium)
		ws.SetIntAt(layout.colNewPremium, row, entry.newPremium)
		ws.SetIntAt(layout.colOldDiesel, row, entry.oldDiesel)
		ws.SetIntAt(layout.colNewDiesel, row, entry.newDiesel)
		if layout.colDeltaGas > 0 {
			ws.SetFormulaAt(layout.colDeltaGas, row, deltaFormula(oldGasCol, newGasCol, row))
		}
		if layout.colDeltaPremium > 0 {
			ws.SetFormulaAt(layout.colDeltaPremium, row, deltaFormula(oldPremiumCol, newPremiumCol, row))
		}
		if layout.colDeltaDiesel > 0 {
			ws.SetFormulaAt(layout.colDeltaDiesel, row, deltaFormula(oldDieselCol, newDieselCol, row))
		}
	}
	if len(entries) > 0 {
		lastChangeRow := layout.dataStartRow + len(entries) - 1
		var targetCols []int
		for _, col := range []int{layout.colDeltaGas, layout.colDeltaPremium, layout.colDeltaDiesel} {
			if col > 0 {
				targetCols = append(targetCols, col)
			}
		}
		if err := ws.ExtendConditionalFormats(lastChangeRow, targetCols, layout.dataStartRow); err != nil {
			return err
		}
	}
	return ws.UpdateDimension()
}

// deltaFormula computes new minus old, blank when either side is blank.
func deltaFormula(oldCol, newCol string, row int) string {
	r := strconv.Itoa(row)
	return "IF(OR(" + oldCol + r + `="",` + newCol + r + `=""),"",` + newCol + r + "-" + oldCol + r + ")"
}

// clearPreviousEntries blanks the value of every cell in the old data
// band, leaving styling in place for reuse.
func clearPreviousEntries(ws *workbook.Worksheet, layout changeLogLayout, shared []string) {
	lastRow, ok := findLastChangeLogDataRow(ws, layout, shared)
	if !ok {
		return
	}
	type cellRef struct{ col, row int }
	var toClear []cellRef
	for _, row := range ws.RowNumbers() {
		if row < layout.dataStartRow || row > lastRow {
			continue
		}
		for col := range ws.Rows[row].Cells {
			if col <= layout.maxCol {
				toClear = append(toClear, cellRef{col: col, row: row})
			}
		}
	}
	for _, ref := range toClear {
		ws.ClearCellAt(ref.col, ref.row)
	}
}

func buildChangeLogEntries(changes []ChangeRow, added, deleted []StoreRow) []changeLogEntry {
	out := make([]changeLogEntry, 0, len(changes)+len(added)+len(deleted))
	for _, ch := range changes {
		out = append(out, changeLogEntry{
			reason:      ch.Reason,
			region:      ch.Region,
			name:        ch.Name,
			address:     ch.Address,
			oldGasoline: ch.OldGasoline,
			newGasoline: ch.NewGasoline,
			oldPremium:  ch.OldPremium,
			newPremium:  ch.NewPremium,
			oldDiesel:   ch.OldDiesel,
			newDiesel:   ch.NewDiesel,
		})
	}
	for _, item := range added {
		out = append(out, changeLogEntry{
			reason:      "신규",
			region:      item.Region,
			name:        item.Name,
			address:     item.Address,
			newGasoline: item.Gasoline,
			newPremium:  item.Premium,
			newDiesel:   item.Diesel,
		})
	}
	for _, item := range deleted {
		out = append(out, changeLogEntry{
			reason:      "폐업",
			region:      item.Region,
			name:        item.Name,
			address:     item.Address,
			oldGasoline: item.Gasoline,
			oldPremium:  item.Premium,
			oldDiesel:   item.Diesel,
		})
	}
	return out
}

func findChangeLogLayout(ws *workbook.Worksheet, shared []string) (changeLogLayout, error) {
	maxRows := workbook.EnvScanLimit("FCUPDATER_CHANGELOG_HEADER_SCAN_ROWS", 30, 1_000)
	maxCols := workbook.EnvScanLimit("FCUPDATER_CHANGELOG_HEADER_SCAN_COLS", 60, 500)
	for row := 1; row <= maxRows; row++ {
		headers := map[string]int{}
		for col := 1; col <= maxCols; col++ {
			key := CanonHeader(strings.TrimSpace(ws.DisplayAt(col, row, shared)))
			if key == "" {
				continue
			}
			if _, ok := headers[key]; !ok {
				headers[key] = col
			}
		}
		if len(headers) == 0 {
			continue
		}
		colRegion, ok := headerCol(headers, "지역")
		if !ok {
			continue
		}
		colName, ok := headerCol(headers, "상호")
		if !ok {
			continue
		}
		colAddress, ok := headerCol(headers, "주소")
		if !ok {
			continue
		}
		colReason, ok := headerCol(headers, "변경내용", "변경내역", "변경사유")
		if !ok {
			continue
		}
		colOldGas, err := requiredHeaderCol(headers, "휘발유(이전)", "휘발유이전")
		if err != nil {
			return changeLogLayout{}, err
		}
		colNewGas, err := requiredHeaderCol(headers, "휘발유(신규)", "휘발유신규")
		if err != nil {
			return changeLogLayout{}, err
		}
		colOldPremium, err := requiredHeaderCol(headers, "고급유(이전)", "고급유이전")
		if err != nil {
			return changeLogLayout{}, err
		}
		colNewPremium, err := requiredHeaderCol(headers, "고급유(신규)", "고급유신규")
		if err != nil {
			return changeLogLayout{}, err
		}
		colOldDiesel, err := requiredHeaderCol(headers, "경유(이전)", "경유이전")
		if err != nil {
			return changeLogLayout{}, err
		}
		colNewDiesel, err := requiredHeaderCol(headers, "경유(신규)", "경유신규")
		if err != nil {
			return changeLogLayout{}, err
		}
		colDeltaGas, _ := headerCol(headers, "휘발유Δ", "휘발유△", "휘발유증감", "휘발유차이")
		colDeltaPremium, _ := headerCol(headers, "고급유Δ", "고급유△", "고급유증감", "고급유차이")
		colDeltaDiesel, _ := headerCol(headers, "경유Δ", "경유△", "경유증감", "경유차이")
		layout := changeLogLayout{
			dataStartRow:    row + 1,
			colRegion:       colRegion,
			colName:         colName,
			colAddress:      colAddress,
			colReason:       colReason,
			colOldGas:       colOldGas,
			colNewGas:       colNewGas,
			colDeltaGas:     colDeltaGas,
			colOldPremium:   colOldPremium,
			colNewPremium:   colNewPremium,
			colDeltaPremium: colDeltaPremium,
			colOldDiesel:    colOldDiesel,
			colNewDiesel:    colNewDiesel,
			colDeltaDiesel:  colDeltaDiesel,
		}
		layout.maxCol = maxOfCols(
			colRegion, colName, colAddress, colReason,
			colOldGas, colNewGas, colDeltaGas,
			colOldPremium, colNewPremium, colDeltaPremium,
			colOldDiesel, colNewDiesel, colDeltaDiesel,
		)
		return layout, nil
	}
	return changeLogLayout{}, fmt.Errorf("%w: required columns 지역/상호/주소/변경내용/휘발유(이전)/휘발유(신규)/고급유(이전)/고급유(신규)/경유(이전)/경유(신규)", ErrChangeLogHeader)
}

func headerCol(headers map[string]int, keys ...string) (int, bool) {
	for _, key := range keys {
		if col, ok := headers[CanonHeader(key)]; ok {
			return col, true
		}
	}
	return 0, false
}

func requiredHeaderCol(headers map[string]int, keys ...string) (int, error) {
	if col, ok := headerCol(headers, keys...); ok {
		return col, nil
	}
	return 0, fmt.Errorf("%w: missing column %s", ErrChangeLogHeader, keys[0])
}

func maxOfCols(cols ...int) int {
	max := 0
	for _, c := range cols {
		if c > max {
			max = c
		}
	}
	return max
}

func changeLogDataCols(layout changeLogLayout) []int {
	return []int{
		layout.colRegion,
		layout.colName,
		layout.colAddress,
		layout.colReason,
		layout.colOldGas,
		layout.colNewGas,
		layout.colOldPremium,
		layout.colNewPremium,
		layout.colOldDiesel,
		layout.colNewDiesel,
	}
}

func findLastChangeLogDataRow(ws *workbook.Worksheet, layout changeLogLayout, shared []string) (int, bool) {
	cols := changeLogDataCols(layout)
	last := 0
	found := false
	for _, row := range ws.RowNumbers() {
		if row < layout.dataStartRow {
			continue
		}
		if ws.RowHasData(row, cols, shared) {
			last = row
			found = true
		}
	}
	return last, found
}

// pickStyleTemplateRow chooses the row whose formatting is cloned onto
// appended entries. The preferred row can be tuned with
// FCUPDATER_CHANGELOG_STYLE_TEMPLATE_ROW; fallback walks backward
// through formatted rows in the data band.
func pickStyleTemplateRow(ws *workbook.Worksheet, maxCol, dataStartRow int) int {
	preferred := workbook.EnvScanLimit("FCUPDATER_CHANGELOG_STYLE_TEMPLATE_ROW", 243, 1<<30)
	if preferred >= dataStartRow && ws.HasRowFormat(preferred, maxCol) {
		return preferred
	}
	end := dataStartRow + 1
	if preferred > dataStartRow {
		end = preferred
	}
	for row := end - 1; row >= dataStartRow; row-- {
		if ws.HasRowFormat(row, maxCol) {
			return row
		}
	}
	return dataStartRow
}
