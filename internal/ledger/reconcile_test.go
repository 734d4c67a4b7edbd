package ledger

import (
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/krwizxp/fcupdater/internal/workbook"
)

func intPtr(v int) *int { return &v }

// writeMasterFixture builds a small master workbook: the ledger sheet
// with its header marker and three stations, and a change log sheet
// with the expected header row.
func writeMasterFixture(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", MasterSheetName); err != nil {
		t.Fatalf("SetSheetName: %v", err)
	}
	set := func(sheet, cell, value string) {
		t.Helper()
		if err := f.SetCellStr(sheet, cell, value); err != nil {
			t.Fatalf("SetCellStr(%s!%s): %v", sheet, cell, err)
		}
	}
	setInt := func(sheet, cell string, value int) {
		t.Helper()
		if err := f.SetCellInt(sheet, cell, int64(value)); err != nil {
			t.Fatalf("SetCellInt(%s!%s): %v", sheet, cell, err)
		}
	}
	set(MasterSheetName, "A2", "지역화폐적용순위")
	// Row 3: station matched with a price change.
	set(MasterSheetName, "B3", "대전")
	set(MasterSheetName, "C3", "가득주유소")
	set(MasterSheetName, "D3", "SK")
	set(MasterSheetName, "E3", "N")
	set(MasterSheetName, "F3", "대전 중구 큰길 1")
	set(MasterSheetName, "G3", "042-111-1111")
	setInt(MasterSheetName, "H3", 1600)
	setInt(MasterSheetName, "K3", 1500)
	// Row 4: station matched with no differences.
	set(MasterSheetName, "B4", "대전")
	set(MasterSheetName, "C4", "한밭주유소")
	set(MasterSheetName, "F4", "대전 서구 둔산로 2")
	setInt(MasterSheetName, "H4", 1700)
	// Row 5: station absent from the sources.
	set(MasterSheetName, "B5", "세종")
	set(MasterSheetName, "C5", "폐업주유소")
	set(MasterSheetName, "F5", "세종시 어딘가 3")
	setInt(MasterSheetName, "H5", 1800)

	if _, err := f.NewSheet(ChangeLogSheetName); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	logHeaders := []struct{ cell, text string }{
		{"A4", "지역"}, {"B4", "상호"}, {"C4", "주소"}, {"D4", "변경내용"},
		{"E4", "휘발유(이전)"}, {"F4", "휘발유(신규)"},
		{"G4", "고급유(이전)"}, {"H4", "고급유(신규)"},
		{"I4", "경유(이전)"}, {"J4", "경유(신규)"},
	}
	for _, h := range logHeaders {
		set(ChangeLogSheetName, h.cell, h.text)
	}
	path := filepath.Join(t.TempDir(), "master.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs fixture: %v", err)
	}
	f.Close()
	return path
}

func testSourceIndex() map[string]SourceRecord {
	records := []SourceRecord{
		{
			Region: "대전", Name: "가득주유소", Brand: "SK", SelfYN: "N",
			Address: "대전 중구 큰길 1", Phone: "042-111-1111",
			Gasoline: intPtr(1650), Diesel: intPtr(1500),
		},
		{
			Region: "대전", Name: "한밭주유소",
			Address:  "대전 서구 둔산로 2",
			Gasoline: intPtr(1700),
		},
		{
			Region: "충남", Name: "신규주유소",
			Address:  "충남 천안 4",
			Gasoline: intPtr(1750),
		},
	}
	index := map[string]SourceRecord{}
	for _, rec := range records {
		index[NormalizeAddressKey(rec.Address)] = rec
	}
	return index
}

func TestUpdateMasterSheet(t *testing.T) {
	path := writeMasterFixture(t)
	wb, err := workbook.OpenWorkbook(path)
	if err != nil {
		t.Fatalf("OpenWorkbook() error = %v", err)
	}
	changes, added, deleted, err := UpdateMasterSheet(wb, testSourceIndex())
	if err != nil {
		t.Fatalf("UpdateMasterSheet() error = %v", err)
	}

	if len(changes) != 1 {
		t.Fatalf("changes = %+v; want one", changes)
	}
	if changes[0].Reason != "가격변동" {
		t.Errorf("Reason = %q; want 가격변동", changes[0].Reason)
	}
	if changes[0].OldGasoline == nil || *changes[0].OldGasoline != 1600 {
		t.Errorf("OldGasoline = %v; want 1600", changes[0].OldGasoline)
	}
	if changes[0].NewGasoline == nil || *changes[0].NewGasoline != 1650 {
		t.Errorf("NewGasoline = %v; want 1650", changes[0].NewGasoline)
	}
	if len(added) != 1 || added[0].Name != "신규주유소" || added[0].Region != "충남" {
		t.Fatalf("added = %+v; want 신규주유소", added)
	}
	if len(deleted) != 1 || deleted[0].Name != "폐업주유소" {
		t.Fatalf("deleted = %+v; want 폐업주유소", deleted)
	}
	if deleted[0].Gasoline == nil || *deleted[0].Gasoline != 1800 {
		t.Errorf("deleted Gasoline = %v; want 1800", deleted[0].Gasoline)
	}

	ws, _ := wb.Sheet(MasterSheetName)
	shared := wb.SharedStrings()
	if got := ws.DisplayAt(3, 3, shared); got != "가득주유소" {
		t.Errorf("C3 = %q; want 가득주유소", got)
	}
	if got, _ := ws.IntAt(8, 3, shared); got != 1650 {
		t.Errorf("H3 = %d; want 1650", got)
	}
	if got := ws.DisplayAt(3, 5, shared); got != "신규주유소" {
		t.Errorf("C5 = %q; want the appended station", got)
	}
	if got, _ := ws.IntAt(8, 5, shared); got != 1750 {
		t.Errorf("H5 = %d; want 1750", got)
	}
	// The appended row is stamped over a clone of the last data row, so
	// untouched columns keep the template's values.
	if got := ws.DisplayAt(2, 5, shared); got != "세종" {
		t.Errorf("B5 = %q; want the template row region", got)
	}
}

func TestUpdateMasterSheetIdempotent(t *testing.T) {
	path := writeMasterFixture(t)
	wb, err := workbook.OpenWorkbook(path)
	if err != nil {
		t.Fatalf("OpenWorkbook() error = %v", err)
	}
	index := testSourceIndex()
	if _, _, _, err := UpdateMasterSheet(wb, index); err != nil {
		t.Fatalf("first UpdateMasterSheet() error = %v", err)
	}
	changes, added, deleted, err := UpdateMasterSheet(wb, index)
	if err != nil {
		t.Fatalf("second UpdateMasterSheet() error = %v", err)
	}
	if len(changes) != 0 || len(added) != 0 || len(deleted) != 0 {
		t.Errorf("second run not idempotent: changes=%+v added=%+v deleted=%+v", changes, added, deleted)
	}
}

func TestUpdateChangeLog(t *testing.T) {
	path := writeMasterFixture(t)
	wb, err := workbook.OpenWorkbook(path)
	if err != nil {
		t.Fatalf("OpenWorkbook() error = %v", err)
	}
	changes, added, deleted, err := UpdateMasterSheet(wb, testSourceIndex())
	if err != nil {
		t.Fatalf("UpdateMasterSheet() error = %v", err)
	}
	if err := UpdateChangeLog(wb, "2026-08-27", changes, added, deleted); err != nil {
		t.Fatalf("UpdateChangeLog() error = %v", err)
	}

	out := filepath.Join(t.TempDir(), "out.xlsx")
	if err := wb.SaveAs(out, true); err != nil {
		t.Fatalf("SaveAs() error = %v", err)
	}
	check, err := excelize.OpenFile(out)
	if err != nil {
		t.Fatalf("reopen with excelize: %v", err)
	}
	defer check.Close()
	get := func(cell string) string {
		t.Helper()
		v, err := check.GetCellValue(ChangeLogSheetName, cell)
		if err != nil {
			t.Fatalf("GetCellValue(%s): %v", cell, err)
		}
		return v
	}
	if got := get("A2"); got != "현행화 일자: 2026-08-27" {
		t.Errorf("A2 = %q; want the date stamp", got)
	}
	// Entries in order: changed, added, deleted.
	if got := get("D5"); got != "가격변동" {
		t.Errorf("D5 = %q; want 가격변동", got)
	}
	if got := get("E5"); got != "1600" {
		t.Errorf("E5 = %q; want 1600", got)
	}
	if got := get("F5"); got != "1650" {
		t.Errorf("F5 = %q; want 1650", got)
	}
	if got := get("D6"); got != "신규" {
		t.Errorf("D6 = %q; want 신규", got)
	}
	if got := get("A6"); got != "충남" {
		t.Errorf("A6 = %q; want 충남", got)
	}
	if got := get("F6"); got != "1750" {
		t.Errorf("F6 = %q; want 1750", got)
	}
	if got := get("D7"); got != "폐업" {
		t.Errorf("D7 = %q; want 폐업", got)
	}
	if got := get("E7"); got != "1800" {
		t.Errorf("E7 = %q; want 1800", got)
	}
	if got := get("F7"); got != "" {
		t.Errorf("F7 = %q; want blank for a closed station", got)
	}
}
