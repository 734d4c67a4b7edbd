// Package outpath decides where the updated workbook and its backup are
// written, reserving the chosen paths so concurrent runs cannot collide.
package outpath

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// reservationMagic marks a file as a path reservation placeholder. Only
// files holding exactly this content are ever reclaimed or cleaned up.
var reservationMagic = []byte("FCUPDATER_RESERVED_v1\n")

const (
	staleReservationAge = time.Hour
	maxConflictAttempts = 100_000
)

// ErrTooManyConflicts is returned when no free candidate path could be
// found within the attempt limit.
var ErrTooManyConflicts = errors.New("too many output path conflicts")

// Target selects how the output path is derived.
type Target struct {
	// InPlace overwrites the master file itself.
	InPlace bool
	// Explicit is a caller-provided output path. Empty means auto.
	Explicit string
}

// DecideOutputPath resolves the output file path for a run. In dry-run
// mode candidates are only probed for existence; otherwise the returned
// path is reserved on disk with a marker file.
func DecideOutputPath(master string, target Target, today string, dryRun bool) (string, error) {
	if target.InPlace {
		return master, nil
	}
	requested := target.Explicit
	if requested == "" {
		stem := fileStem(master, "fuel_cost_chungcheong")
		requested = filepath.Join(parentDir(master), fmt.Sprintf("%s_updated_%s.xlsx", stem, today))
	}
	if dryRun {
		return makeNonconflictingPath(requested)
	}
	return ReserveNonconflictingPath(requested)
}

// ReserveBackupPath reserves a dated backup path next to the master file.
func ReserveBackupPath(master, today string) (string, error) {
	stem := fileStem(master, "fuel_cost_chungcheong")
	base := filepath.Join(parentDir(master), fmt.Sprintf("%s_backup_%s.xlsx", stem, today))
	return ReserveNonconflictingPath(base)
}

// CleanupReservation removes a reservation marker file. Files holding
// anything other than the marker are left alone.
func CleanupReservation(path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if string(content) == string(reservationMagic) {
		os.Remove(path)
	}
}

func makeNonconflictingPath(path string) (string, error) {
	for seq := 0; seq <= maxConflictAttempts; seq++ {
		candidate := candidateWithSuffix(path, seq)
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrTooManyConflicts, path)
}

// ReserveNonconflictingPath finds the first free candidate for path and
// claims it by atomically creating a marker file. Stale markers older
// than an hour are reclaimed.
func ReserveNonconflictingPath(path string) (string, error) {
	if err := os.MkdirAll(parentDir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	seq := 0
	for seq <= maxConflictAttempts {
		candidate := candidateWithSuffix(path, seq)
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if werr := writeReservation(f); werr != nil {
				os.Remove(candidate)
				return "", fmt.Errorf("writing reservation marker %s: %w", candidate, werr)
			}
			return candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("reserving output path %s: %w", candidate, err)
		}
		if tryRemoveStaleReservation(candidate) {
			continue
		}
		seq++
	}
	return "", fmt.Errorf("%w: %s", ErrTooManyConflicts, path)
}

func writeReservation(f *os.File) error {
	defer f.Close()
	if _, err := f.Write(reservationMagic); err != nil {
		return err
	}
	return f.Sync()
}

func tryRemoveStaleReservation(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if time.Since(info.ModTime()) < staleReservationAge {
		return false
	}
	content, err := os.ReadFile(path)
	if err != nil || string(content) != string(reservationMagic) {
		return false
	}
	return os.Remove(path) == nil
}

func candidateWithSuffix(path string, seq int) string {
	if seq == 0 {
		return path
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	if stem == "" {
		stem = "output"
	}
	return filepath.Join(parentDir(path), fmt.Sprintf("%s_%d%s", stem, seq, ext))
}

func fileStem(path, fallback string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return fallback
	}
	return stem
}

func parentDir(path string) string {
	parent := filepath.Dir(path)
	if parent == "" {
		return "."
	}
	return parent
}
