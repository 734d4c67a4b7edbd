package outpath

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDecideOutputPathAuto(t *testing.T) {
	dir := t.TempDir()
	master := filepath.Join(dir, "fuel_cost_chungcheong.xlsx")
	got, err := DecideOutputPath(master, Target{}, "2026-08-27", false)
	if err != nil {
		t.Fatalf("DecideOutputPath() error = %v", err)
	}
	want := filepath.Join(dir, "fuel_cost_chungcheong_updated_2026-08-27.xlsx")
	if got != want {
		t.Errorf("path = %q; want %q", got, want)
	}
	content, err := os.ReadFile(got)
	if err != nil {
		t.Fatalf("reservation marker missing: %v", err)
	}
	if string(content) != string(reservationMagic) {
		t.Errorf("marker content = %q", content)
	}
}

func TestDecideOutputPathInPlace(t *testing.T) {
	got, err := DecideOutputPath("master.xlsx", Target{InPlace: true}, "2026-08-27", false)
	if err != nil {
		t.Fatalf("DecideOutputPath() error = %v", err)
	}
	if got != "master.xlsx" {
		t.Errorf("path = %q; want master.xlsx", got)
	}
}

func TestReserveSkipsOccupiedPaths(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "out.xlsx")
	if err := os.WriteFile(base, []byte("real workbook"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReserveNonconflictingPath(base)
	if err != nil {
		t.Fatalf("ReserveNonconflictingPath() error = %v", err)
	}
	want := filepath.Join(dir, "out_1.xlsx")
	if got != want {
		t.Errorf("path = %q; want %q", got, want)
	}
}

func TestReserveReclaimsStaleMarker(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "out.xlsx")
	if err := os.WriteFile(base, reservationMagic, 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(base, old, old); err != nil {
		t.Fatal(err)
	}
	got, err := ReserveNonconflictingPath(base)
	if err != nil {
		t.Fatalf("ReserveNonconflictingPath() error = %v", err)
	}
	if got != base {
		t.Errorf("path = %q; want the reclaimed base path %q", got, base)
	}
}

func TestFreshMarkerIsNotReclaimed(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "out.xlsx")
	if err := os.WriteFile(base, reservationMagic, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReserveNonconflictingPath(base)
	if err != nil {
		t.Fatalf("ReserveNonconflictingPath() error = %v", err)
	}
	want := filepath.Join(dir, "out_1.xlsx")
	if got != want {
		t.Errorf("path = %q; want %q", got, want)
	}
}

func TestCleanupReservation(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "reserved.xlsx")
	real := filepath.Join(dir, "real.xlsx")
	if err := os.WriteFile(marker, reservationMagic, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(real, []byte("workbook bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	CleanupReservation(marker)
	CleanupReservation(real)
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("marker file should be removed")
	}
	if _, err := os.Stat(real); err != nil {
		t.Error("non-marker file must never be removed")
	}
}

func TestDryRunDoesNotCreateFiles(t *testing.T) {
	dir := t.TempDir()
	master := filepath.Join(dir, "master.xlsx")
	got, err := DecideOutputPath(master, Target{}, "2026-08-27", true)
	if err != nil {
		t.Fatalf("DecideOutputPath() error = %v", err)
	}
	if _, err := os.Stat(got); !os.IsNotExist(err) {
		t.Errorf("dry run must not create %q", got)
	}
}
