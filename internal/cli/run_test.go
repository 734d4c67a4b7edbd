package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func fixedNow(t *testing.T) {
	t.Helper()
	prev := now
	now = func() time.Time {
		return time.Date(2026, time.August, 27, 9, 0, 0, 0, time.UTC)
	}
	t.Cleanup(func() { now = prev })
}

func writeTestMaster(t *testing.T, dir string) string {
	t.Helper()
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", "유류비"); err != nil {
		t.Fatal(err)
	}
	cells := []struct {
		cell  string
		value string
	}{
		{"A2", "지역화폐적용순위"},
		{"B3", "대전"}, {"C3", "가득주유소"}, {"F3", "대전 중구 큰길 1"},
	}
	for _, c := range cells {
		if err := f.SetCellStr("유류비", c.cell, c.value); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SetCellInt("유류비", "H3", 1600); err != nil {
		t.Fatal(err)
	}
	if _, err := f.NewSheet("변경내역"); err != nil {
		t.Fatal(err)
	}
	headers := []struct {
		cell string
		text string
	}{
		{"A4", "지역"}, {"B4", "상호"}, {"C4", "주소"}, {"D4", "변경내용"},
		{"E4", "휘발유(이전)"}, {"F4", "휘발유(신규)"},
		{"G4", "고급유(이전)"}, {"H4", "고급유(신규)"},
		{"I4", "경유(이전)"}, {"J4", "경유(신규)"},
	}
	for _, h := range headers {
		if err := f.SetCellStr("변경내역", h.cell, h.text); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(dir, "fuel_cost_chungcheong.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func writeTestSource(t *testing.T, dir string) {
	t.Helper()
	f := excelize.NewFile()
	header := []string{"지역", "상호", "주소", "휘발유", "경유"}
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellStr("Sheet1", cell, h); err != nil {
			t.Fatal(err)
		}
	}
	row := []string{"대전", "가득주유소", "대전 중구 큰길 1"}
	for i, v := range row {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		if err := f.SetCellStr("Sheet1", cell, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.SetCellInt("Sheet1", "D2", 1650); err != nil {
		t.Fatal(err)
	}
	if err := f.SaveAs(filepath.Join(dir, "지역_위치별(주유소)_1.xlsx")); err != nil {
		t.Fatal(err)
	}
	f.Close()
}

func TestRunUpdate(t *testing.T) {
	fixedNow(t)
	dir := t.TempDir()
	master := writeTestMaster(t, dir)
	writeTestSource(t, dir)

	var stdout, stderr bytes.Buffer
	opts := options{
		master:        master,
		sourcesDir:    dir,
		sourcesPrefix: "지역_위치별(주유소)",
	}
	if err := runUpdate(&stdout, &stderr, opts); err != nil {
		t.Fatalf("runUpdate() error = %v", err)
	}

	outPath := filepath.Join(dir, "fuel_cost_chungcheong_updated_2026-08-27.xlsx")
	if _, err := os.Stat(outPath); err != nil {
		t.Fatalf("output workbook missing: %v", err)
	}
	check, err := excelize.OpenFile(outPath)
	if err != nil {
		t.Fatalf("reopen output: %v", err)
	}
	defer check.Close()
	got, err := check.GetCellValue("유류비", "H3")
	if err != nil {
		t.Fatal(err)
	}
	if got != "1650" {
		t.Errorf("H3 = %q; want 1650", got)
	}
	summary := stdout.String()
	if !strings.Contains(summary, "기존 업체 변경 건수(가격/정보): 1") {
		t.Errorf("summary missing change count:\n%s", summary)
	}
	if !strings.Contains(summary, outPath) {
		t.Errorf("summary missing output path:\n%s", summary)
	}
}

func TestRunUpdateDryRun(t *testing.T) {
	fixedNow(t)
	dir := t.TempDir()
	master := writeTestMaster(t, dir)
	writeTestSource(t, dir)

	var stdout, stderr bytes.Buffer
	opts := options{
		master:        master,
		sourcesDir:    dir,
		sourcesPrefix: "지역_위치별(주유소)",
		dryRun:        true,
	}
	if err := runUpdate(&stdout, &stderr, opts); err != nil {
		t.Fatalf("runUpdate() error = %v", err)
	}
	outPath := filepath.Join(dir, "fuel_cost_chungcheong_updated_2026-08-27.xlsx")
	if _, err := os.Stat(outPath); !os.IsNotExist(err) {
		t.Error("dry run must not write the output workbook")
	}
	if !strings.Contains(stdout.String(), "(dry-run) 파일 저장 안 함") {
		t.Errorf("summary missing dry-run notice:\n%s", stdout.String())
	}
}

func TestRunUpdateInPlaceCreatesBackup(t *testing.T) {
	fixedNow(t)
	dir := t.TempDir()
	master := writeTestMaster(t, dir)
	writeTestSource(t, dir)

	var stdout, stderr bytes.Buffer
	opts := options{
		master:        master,
		sourcesDir:    dir,
		sourcesPrefix: "지역_위치별(주유소)",
		inPlace:       true,
	}
	if err := runUpdate(&stdout, &stderr, opts); err != nil {
		t.Fatalf("runUpdate() error = %v", err)
	}
	backup := filepath.Join(dir, "fuel_cost_chungcheong_backup_2026-08-27.xlsx")
	if _, err := os.Stat(backup); err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	orig, err := excelize.OpenFile(backup)
	if err != nil {
		t.Fatalf("reopen backup: %v", err)
	}
	defer orig.Close()
	if got, _ := orig.GetCellValue("유류비", "H3"); got != "1600" {
		t.Errorf("backup H3 = %q; want the pre-update 1600", got)
	}
	updated, err := excelize.OpenFile(master)
	if err != nil {
		t.Fatalf("reopen master: %v", err)
	}
	defer updated.Close()
	if got, _ := updated.GetCellValue("유류비", "H3"); got != "1650" {
		t.Errorf("master H3 = %q; want 1650", got)
	}
}

func TestRunUpdateMissingMaster(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	opts := options{
		master:        filepath.Join(dir, "nope.xlsx"),
		sourcesDir:    dir,
		sourcesPrefix: "지역_위치별(주유소)",
	}
	if err := runUpdate(&stdout, &stderr, opts); !errors.Is(err, ErrMasterFileMissing) {
		t.Fatalf("error = %v; want ErrMasterFileMissing", err)
	}
}

func TestRunUpdateNoSources(t *testing.T) {
	dir := t.TempDir()
	master := writeTestMaster(t, dir)
	var stdout, stderr bytes.Buffer
	opts := options{
		master:        master,
		sourcesDir:    dir,
		sourcesPrefix: "지역_위치별(주유소)",
	}
	if err := runUpdate(&stdout, &stderr, opts); !errors.Is(err, ErrNoSourceFiles) {
		t.Fatalf("error = %v; want ErrNoSourceFiles", err)
	}
}
