package source

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/krwizxp/fcupdater/internal/ledger"
)

const sourceSheetXML = `<worksheet><sheetData>` +
	`<row r="2">` +
	`<c r="A2" t="inlineStr"><is><t>지역</t></is></c>` +
	`<c r="B2" t="inlineStr"><is><t>상호</t></is></c>` +
	`<c r="C2" t="inlineStr"><is><t>주소</t></is></c>` +
	`<c r="D2" t="inlineStr"><is><t>휘발유</t></is></c>` +
	`<c r="E2" t="inlineStr"><is><t>경유</t></is></c>` +
	`</row>` +
	`<row r="3">` +
	`<c r="A3" t="inlineStr"><is><t>대전</t></is></c>` +
	`<c r="B3" t="s"><v>0</v></c>` +
	`<c r="C3" t="inlineStr"><is><t>대전 중구 큰길 1</t></is></c>` +
	`<c r="D3"><v>1698</v></c>` +
	`<c r="E3"><v>1550.6</v></c>` +
	`</row>` +
	`<row r="4">` +
	`<c r="A4" t="inlineStr"><is><t>대전</t></is></c>` +
	`<c r="B4" t="inlineStr"><is><t>주소 없는 행</t></is></c>` +
	`<c r="D4"><v>1700</v></c>` +
	`</row>` +
	`</sheetData></worksheet>`

func TestBuildRecordsStreaming(t *testing.T) {
	shared := []string{"서울상사"}
	records, err := buildRecordsStreaming(sourceSheetXML, shared)
	if err != nil {
		t.Fatalf("buildRecordsStreaming() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %+v; want the row without an address skipped", records)
	}
	rec := records[0]
	if rec.Region != "대전" || rec.Name != "서울상사" || rec.Address != "대전 중구 큰길 1" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Gasoline == nil || *rec.Gasoline != 1698 {
		t.Errorf("Gasoline = %v; want 1698", rec.Gasoline)
	}
	if rec.Diesel == nil || *rec.Diesel != 1551 {
		t.Errorf("Diesel = %v; want 1551 after rounding", rec.Diesel)
	}
	if rec.Premium != nil {
		t.Errorf("Premium = %v; want nil for a missing column", rec.Premium)
	}
}

func TestBuildRecordsStreamingNoHeader(t *testing.T) {
	xml := `<worksheet><sheetData><row r="1"><c r="A1"><v>1</v></c></row></sheetData></worksheet>`
	if _, err := buildRecordsStreaming(xml, nil); err == nil {
		t.Fatal("expected header-not-found error")
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1698, "1698"},
		{0, "0"},
		{1699.6, "1699.6"},
		{-12.5, "-12.5"},
		{1550.60, "1550.6"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%v) = %q; want %q", tt.in, got, tt.want)
		}
	}
}

func TestCellValueAsInt(t *testing.T) {
	if v, ok := numberCell(1699.5).asInt(); !ok || v != 1700 {
		t.Errorf("asInt(1699.5) = %d, %v; want 1700, true", v, ok)
	}
	if v, ok := textCell("1,698").asInt(); !ok || v != 1698 {
		t.Errorf("asInt(1,698) = %d, %v; want 1698, true", v, ok)
	}
	if _, ok := (cellValue{}).asInt(); ok {
		t.Error("empty cell should have no integer value")
	}
}

func TestFindSourceFilesNaturalOrder(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"지역_위치별(주유소)_10.xls",
		"지역_위치별(주유소)_2.xls",
		"지역_위치별(주유소)_1.xlsx",
		"지역_위치별(주유소)_b.xls",
		"지역_위치별(주유소)_3.txt",
		"다른파일_1.xls",
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	paths, err := FindSourceFiles(dir, "지역_위치별(주유소)")
	if err != nil {
		t.Fatalf("FindSourceFiles() error = %v", err)
	}
	var got []string
	for _, p := range paths {
		got = append(got, filepath.Base(p))
	}
	want := []string{
		"지역_위치별(주유소)_1.xlsx",
		"지역_위치별(주유소)_2.xls",
		"지역_위치별(주유소)_10.xls",
		"지역_위치별(주유소)_b.xls",
	}
	if len(got) != len(want) {
		t.Fatalf("FindSourceFiles() = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FindSourceFiles() = %v; want %v", got, want)
		}
	}
}

func intPtr(v int) *int { return &v }

func TestBuildIndexPriority(t *testing.T) {
	recordsByPath := map[string][]ledger.SourceRecord{
		"a.xls": {
			{Region: "대전", Name: "가득주유소", Address: "대전 중구 큰길 1", Gasoline: intPtr(1698)},
			{Region: "대전", Name: "한밭주유소", Address: "대전 서구 둔산로 2", Gasoline: intPtr(1710)},
		},
		"b.xls": {
			// Same station, fewer prices: the earlier record wins.
			{Region: "대전", Name: "가득주유소", Address: "대전중구큰길1"},
			// Same station, same score: the later file wins.
			{Region: "대전", Name: "한밭주유소", Address: "대전 서구 둔산로 2", Gasoline: intPtr(1712)},
		},
	}
	orig := readSourceFile
	readSourceFile = func(path string) ([]ledger.SourceRecord, error) {
		return recordsByPath[path], nil
	}
	defer func() { readSourceFile = orig }()

	index, report, err := BuildIndex([]string{"a.xls", "b.xls"})
	if err != nil {
		t.Fatalf("BuildIndex() error = %v", err)
	}
	if len(index) != 2 {
		t.Fatalf("index size = %d; want 2", len(index))
	}
	first := index[ledger.NormalizeAddressKey("대전 중구 큰길 1")]
	if first.Gasoline == nil || *first.Gasoline != 1698 {
		t.Errorf("richer earlier record lost: %+v", first)
	}
	second := index[ledger.NormalizeAddressKey("대전 서구 둔산로 2")]
	if second.Gasoline == nil || *second.Gasoline != 1712 {
		t.Errorf("equal-score later record lost: %+v", second)
	}
	if report.DuplicateAddressConflicts != 2 {
		t.Errorf("DuplicateAddressConflicts = %d; want 2", report.DuplicateAddressConflicts)
	}
	if report.OverwrittenConflicts != 1 {
		t.Errorf("OverwrittenConflicts = %d; want 1", report.OverwrittenConflicts)
	}
	if len(report.Samples) != 2 {
		t.Fatalf("Samples = %+v; want 2 entries", report.Samples)
	}
	if report.Samples[0].SelectedSource != "a.xls" {
		t.Errorf("sample 0 selected %q; want a.xls", report.Samples[0].SelectedSource)
	}
	if report.Samples[1].SelectedSource != "b.xls" {
		t.Errorf("sample 1 selected %q; want b.xls", report.Samples[1].SelectedSource)
	}
}

func TestReadFileUnsupportedExtension(t *testing.T) {
	if _, err := ReadFile("stations.csv"); err == nil {
		t.Fatal("expected unsupported extension error")
	}
}
