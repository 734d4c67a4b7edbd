package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/krwizxp/fcupdater/internal/workbook"
)

// MasterSheetName is the ledger sheet every master workbook must carry.
const MasterSheetName = "유류비"

// masterHeaderMarker identifies the header row by its first column text.
const masterHeaderMarker = "지역화폐적용순위"

// Master sheet column layout, fixed by the workbook template.
const (
	colRegion   = 2
	colName     = 3
	colBrand    = 4
	colSelfYN   = 5
	colAddress  = 6
	colPhone    = 7
	colGasoline = 8
	colPremium  = 9
	colDiesel   = 11
)

// Error types
var (
	ErrMasterSheetMissing    = errors.New("master workbook has no ledger sheet")
	ErrMasterHeaderNotFound  = errors.New("master ledger header row not found")
	ErrChangeLogSheetMissing = errors.New("master workbook has no change log sheet")
	ErrChangeLogHeader       = errors.New("change log header row not found")
)

// UpdateMasterSheet reconciles the 유류비 sheet against the source index:
// matched rows are rewritten from their source record, unmatched master
// rows are dropped, unmatched source records are appended, and the sheet
// is repacked so the data band stays contiguous. It returns the changed,
// added and deleted rows for the change log.
func UpdateMasterSheet(wb *workbook.Workbook, sourceIndex map[string]SourceRecord) ([]ChangeRow, []StoreRow, []StoreRow, error) {
	ws, ok := wb.Sheet(MasterSheetName)
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrMasterSheetMissing, MasterSheetName)
	}
	shared := wb.SharedStrings()
	headerRow, err := findMasterHeaderRow(ws, shared)
	if err != nil {
		return nil, nil, nil, err
	}
	dataStartRow := headerRow + 1
	oldRows := collectMasterDataRows(ws, shared, dataStartRow)
	eval := evaluateMasterRows(ws, shared, oldRows, sourceIndex)
	newSources := collectNewSources(sourceIndex, eval.matchedSourceKeys)
	added := rowsFromSources(newSources)
	filterEndRow, filterEndCol, err := rebuildMasterRows(ws, shared, headerRow, dataStartRow, oldRows, eval.keptSourceRows, newSources)
	if err != nil {
		return nil, nil, nil, err
	}
	if dataStartRow > 0 && filterEndRow > 0 && filterEndCol > 0 {
		wb.SetWorkbookXML(workbook.UpdateFilterDatabaseDefinedName(
			wb.WorkbookXML(), MasterSheetName, dataStartRow, filterEndRow, filterEndCol))
	}
	return eval.changes, added, eval.deleted, nil
}

// keptRow pairs a surviving master row with its source record; src is
// nil for rows kept verbatim because they carry no address.
type keptRow struct {
	oldRow int
	src    *SourceRecord
}

type masterRowEvaluation struct {
	keptSourceRows    []keptRow
	matchedSourceKeys map[string]struct{}
	changes           []ChangeRow
	deleted           []StoreRow
}

func evaluateMasterRows(ws *workbook.Worksheet, shared []string, oldRows []int, sourceIndex map[string]SourceRecord) masterRowEvaluation {
	eval := masterRowEvaluation{matchedSourceKeys: map[string]struct{}{}}
	for _, oldRow := range oldRows {
		region := strings.TrimSpace(ws.DisplayAt(colRegion, oldRow, shared))
		name := strings.TrimSpace(ws.DisplayAt(colName, oldRow, shared))
		addr := strings.TrimSpace(ws.DisplayAt(colAddress, oldRow, shared))
		if addr == "" {
			eval.keptSourceRows = append(eval.keptSourceRows, keptRow{oldRow: oldRow})
			continue
		}
		key := NormalizeAddressKey(addr)
		src, matched := sourceIndex[key]
		if !matched {
			eval.deleted = append(eval.deleted, StoreRow{
				Region:   region,
				Name:     name,
				Address:  addr,
				Gasoline: intPtrAt(ws, colGasoline, oldRow, shared),
				Premium:  intPtrAt(ws, colPremium, oldRow, shared),
				Diesel:   intPtrAt(ws, colDiesel, oldRow, shared),
			})
			continue
		}
		eval.matchedSourceKeys[key] = struct{}{}
		old := existingMasterRow{
			region:   region,
			name:     name,
			address:  addr,
			brand:    strings.TrimSpace(ws.DisplayAt(colBrand, oldRow, shared)),
			selfYN:   strings.TrimSpace(ws.DisplayAt(colSelfYN, oldRow, shared)),
			phone:    strings.TrimSpace(ws.DisplayAt(colPhone, oldRow, shared)),
			gasoline: intPtrAt(ws, colGasoline, oldRow, shared),
			premium:  intPtrAt(ws, colPremium, oldRow, shared),
			diesel:   intPtrAt(ws, colDiesel, oldRow, shared),
		}
		if change := buildChangeRowIfNeeded(old, src); change != nil {
			eval.changes = append(eval.changes, *change)
		}
		srcCopy := src
		eval.keptSourceRows = append(eval.keptSourceRows, keptRow{oldRow: oldRow, src: &srcCopy})
	}
	return eval
}

type existingMasterRow struct {
	region   string
	name     string
	address  string
	brand    string
	selfYN   string
	phone    string
	gasoline *int
	premium  *int
	diesel   *int
}

// buildChangeRowIfNeeded diffs a master row against its source record.
// Reasons are listed in a fixed order with price movement first.
func buildChangeRowIfNeeded(old existingMasterRow, src SourceRecord) *ChangeRow {
	nameChanged := !SameTrimmed(old.name, src.Name)
	brandChanged := !SameTrimmed(old.brand, src.Brand)
	selfChanged := !SameSelfService(old.selfYN, src.SelfYN)
	addressChanged := NormalizeAddressKey(old.address) != NormalizeAddressKey(src.Address)
	phoneChanged := !SamePhone(old.phone, src.Phone)
	gasChanged := !SameIntPtr(old.gasoline, src.Gasoline)
	premiumChanged := !SameIntPtr(old.premium, src.Premium)
	dieselChanged := !SameIntPtr(old.diesel, src.Diesel)
	if !(nameChanged || brandChanged || selfChanged || addressChanged || phoneChanged ||
		gasChanged || premiumChanged || dieselChanged) {
		return nil
	}
	var reasons []string
	if gasChanged || premiumChanged || dieselChanged {
		reasons = append(reasons, "가격변동")
	}
	if nameChanged {
		reasons = append(reasons, "상호변경")
	}
	if brandChanged {
		reasons = append(reasons, "상표변경")
	}
	if selfChanged {
		reasons = append(reasons, "셀프여부변경")
	}
	if addressChanged {
		reasons = append(reasons, "주소변경")
	}
	if phoneChanged {
		reasons = append(reasons, "전화번호변경")
	}
	return &ChangeRow{
		Reason:      strings.Join(reasons, ", "),
		Region:      old.region,
		Name:        src.Name,
		Address:     src.Address,
		OldGasoline: old.gasoline,
		NewGasoline: src.Gasoline,
		OldPremium:  old.premium,
		NewPremium:  src.Premium,
		OldDiesel:   old.diesel,
		NewDiesel:   src.Diesel,
	}
}

// collectNewSources returns source records no master row matched, in a
// stable region/name/address order.
func collectNewSources(sourceIndex map[string]SourceRecord, matched map[string]struct{}) []SourceRecord {
	var out []SourceRecord
	for key, rec := range sourceIndex {
		if _, ok := matched[key]; ok {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Address < out[j].Address
	})
	return out
}

func rowsFromSources(newSources []SourceRecord) []StoreRow {
	out := make([]StoreRow, 0, len(newSources))
	for _, src := range newSources {
		out = append(out, StoreRow{
			Region:   src.Region,
			Name:     src.Name,
			Address:  src.Address,
			Gasoline: src.Gasoline,
			Premium:  src.Premium,
			Diesel:   src.Diesel,
		})
	}
	return out
}

// rebuildMasterRows rewrites the sheet's row map: rows outside the data
// band keep their (possibly shifted) place with formula references
// remapped, kept rows compact into a contiguous band, and new source
// rows are stamped from the last data row's template. On any error the
// original rows are restored.
func rebuildMasterRows(ws *workbook.Worksheet, shared []string, headerRow, dataStartRow int, oldRows []int, keptSourceRows []keptRow, newSources []SourceRecord) (int, int, error) {
	oldCount := len(oldRows)
	oldEndRow := dataStartRow - 1
	templateRowNum := dataStartRow
	if oldCount > 0 {
		oldEndRow = oldRows[oldCount-1]
		templateRowNum = oldRows[oldCount-1]
	}
	originalRows := ws.Rows
	finalCount := len(keptSourceRows) + len(newSources)
	mapper := &rowMapper{
		hasOldRows:   oldCount > 0,
		dataStartRow: dataStartRow,
		oldEndRow:    oldEndRow,
		deletedRows:  buildDeletedRows(oldRows, keptSourceRows),
		increase:     maxInt(finalCount-oldCount, 0),
		decrease:     maxInt(oldCount-finalCount, 0),
	}
	templateRow := defaultRow(templateRowNum)
	if row, ok := originalRows[templateRowNum]; ok {
		templateRow = row.Clone()
	}

	newRows := buildRebasedNonDataRows(originalRows, dataStartRow, oldEndRow, mapper)
	keptPlaced := placeKeptRows(newRows, originalRows, keptSourceRows, dataStartRow, mapper)
	newPlaced := placeNewSourceRows(newRows, templateRow, templateRowNum, len(keptSourceRows), newSources, dataStartRow, mapper)

	ws.Rows = newRows
	writeSourceRowsToMaster(ws, keptPlaced, newPlaced, shared)

	filterEndRow := dataStartRow
	if finalCount > 0 {
		filterEndRow = dataStartRow + finalCount - 1
	}
	filterEndCol := 1
	if row, ok := ws.Rows[headerRow]; ok {
		for col := range row.Cells {
			if col > filterEndCol {
				filterEndCol = col
			}
		}
	}
	if c := ws.MaxCol(); c > filterEndCol {
		filterEndCol = c
	}
	if err := ws.UpdateDimension(); err != nil {
		ws.Rows = originalRows
		return 0, 0, err
	}
	return filterEndRow, filterEndCol, nil
}

func buildDeletedRows(oldRows []int, keptSourceRows []keptRow) []int {
	kept := make(map[int]struct{}, len(keptSourceRows))
	for _, k := range keptSourceRows {
		kept[k.oldRow] = struct{}{}
	}
	var deleted []int
	for _, r := range oldRows {
		if _, ok := kept[r]; !ok {
			deleted = append(deleted, r)
		}
	}
	sort.Ints(deleted)
	return deleted
}

func buildRebasedNonDataRows(originalRows map[int]*workbook.Row, dataStartRow, oldEndRow int, mapper *rowMapper) map[int]*workbook.Row {
	newRows := map[int]*workbook.Row{}
	nums := make([]int, 0, len(originalRows))
	for num := range originalRows {
		nums = append(nums, num)
	}
	sort.Ints(nums)
	for _, r := range nums {
		if mapper.hasOldRows && r >= dataStartRow && r <= oldEndRow {
			continue
		}
		rowObj := originalRows[r].Clone()
		if r < dataStartRow {
			workbook.RemapRowNumbers(rowObj, r, mapper.mapRow)
			newRows[r] = rowObj
		} else {
			shifted := mapper.shift(r)
			workbook.RemapRowNumbers(rowObj, shifted, mapper.mapRow)
			newRows[shifted] = rowObj
		}
	}
	return newRows
}

type placedRow struct {
	newRow int
	src    *SourceRecord
}

func placeKeptRows(newRows map[int]*workbook.Row, originalRows map[int]*workbook.Row, keptSourceRows []keptRow, dataStartRow int, mapper *rowMapper) []placedRow {
	placed := make([]placedRow, 0, len(keptSourceRows))
	for i, kept := range keptSourceRows {
		newRow := dataStartRow + i
		rowObj := defaultRow(kept.oldRow)
		if row, ok := originalRows[kept.oldRow]; ok {
			rowObj = row.Clone()
		}
		oldRow := kept.oldRow
		workbook.RemapRowNumbers(rowObj, newRow, func(refRow int) int {
			if refRow == oldRow {
				return newRow
			}
			return mapper.mapRow(refRow)
		})
		newRows[newRow] = rowObj
		placed = append(placed, placedRow{newRow: newRow, src: kept.src})
	}
	return placed
}

func placeNewSourceRows(newRows map[int]*workbook.Row, templateRow *workbook.Row, templateRowNum, keptCount int, newSources []SourceRecord, dataStartRow int, mapper *rowMapper) []placedRow {
	placed := make([]placedRow, 0, len(newSources))
	for i := range newSources {
		newRow := dataStartRow + keptCount + i
		rowObj := templateRow.Clone()
		workbook.RemapRowNumbers(rowObj, newRow, func(refRow int) int {
			if refRow == templateRowNum {
				return newRow
			}
			return mapper.mapRow(refRow)
		})
		newRows[newRow] = rowObj
		placed = append(placed, placedRow{newRow: newRow, src: &newSources[i]})
	}
	return placed
}

// writeSourceRowsToMaster stamps the source values into their final
// rows. Freshly appended rows inherit the template's region cell when
// it was blank, keeping the region column filled.
func writeSourceRowsToMaster(ws *workbook.Worksheet, keptPlaced, newPlaced []placedRow, shared []string) {
	for _, plan := range keptPlaced {
		if plan.src != nil {
			writeMasterRowFromSource(ws, plan.newRow, *plan.src)
		}
	}
	for _, plan := range newPlaced {
		writeMasterRowFromSource(ws, plan.newRow, *plan.src)
		regionCell := ws.DisplayAt(colRegion, plan.newRow, shared)
		if strings.TrimSpace(regionCell) == "" && strings.TrimSpace(plan.src.Region) != "" {
			ws.SetStringAt(colRegion, plan.newRow, plan.src.Region)
		}
	}
}

func writeMasterRowFromSource(ws *workbook.Worksheet, row int, src SourceRecord) {
	ws.SetStringAt(colName, row, src.Name)
	ws.SetStringAt(colBrand, row, src.Brand)
	ws.SetStringAt(colSelfYN, row, src.SelfYN)
	ws.SetStringAt(colAddress, row, src.Address)
	ws.SetStringAt(colPhone, row, src.Phone)
	ws.SetIntAt(colGasoline, row, src.Gasoline)
	ws.SetIntAt(colPremium, row, src.Premium)
	ws.SetIntAt(colDiesel, row, src.Diesel)
}

func findMasterHeaderRow(ws *workbook.Worksheet, shared []string) (int, error) {
	limit := workbook.EnvScanLimit("FCUPDATER_MASTER_HEADER_SCAN_ROWS", 200, 20_000)
	for row := 1; row <= limit; row++ {
		if strings.TrimSpace(ws.DisplayAt(1, row, shared)) == masterHeaderMarker {
			return row, nil
		}
	}
	return 0, ErrMasterHeaderNotFound
}

// collectMasterDataRows lists populated data rows in ascending order,
// skipping rows where region, name and address are all blank.
func collectMasterDataRows(ws *workbook.Worksheet, shared []string, dataStartRow int) []int {
	var rows []int
	for _, row := range ws.RowNumbers() {
		if row < dataStartRow {
			continue
		}
		region := ws.DisplayAt(colRegion, row, shared)
		name := ws.DisplayAt(colName, row, shared)
		addr := ws.DisplayAt(colAddress, row, shared)
		if strings.TrimSpace(region) == "" && strings.TrimSpace(name) == "" && strings.TrimSpace(addr) == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func intPtrAt(ws *workbook.Worksheet, col, row int, shared []string) *int {
	if v, ok := ws.IntAt(col, row, shared); ok {
		return &v
	}
	return nil
}

func defaultRow(rowNum int) *workbook.Row {
	return &workbook.Row{
		Attrs: []workbook.Attr{{Name: "r", Value: strconv.Itoa(rowNum)}},
		Cells: map[int]*workbook.Cell{},
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
