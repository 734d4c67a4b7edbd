package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/krwizxp/fcupdater/internal/ledger"
	"github.com/krwizxp/fcupdater/internal/outpath"
	"github.com/krwizxp/fcupdater/internal/source"
	"github.com/krwizxp/fcupdater/internal/workbook"
)

// ErrMasterFileMissing is returned when the master workbook path does
// not exist.
var ErrMasterFileMissing = errors.New("master file not found")

// ErrNoSourceFiles is returned when the sources directory holds no
// matching .xls or .xlsx files.
var ErrNoSourceFiles = errors.New("no source files found")

type options struct {
	master        string
	sourcesDir    string
	sourcesPrefix string
	output        string
	inPlace       bool
	noChangeLog   bool
	dryRun        bool
	fastSave      bool
}

// now is swapped out in tests.
var now = time.Now

func runUpdate(stdout, stderr io.Writer, opts options) error {
	if _, err := os.Stat(opts.master); err != nil {
		return fmt.Errorf("%w: %s (같은 폴더에 두거나 --master로 경로를 지정하세요)", ErrMasterFileMissing, opts.master)
	}
	sourcePaths, err := source.FindSourceFiles(opts.sourcesDir, opts.sourcesPrefix)
	if err != nil {
		return err
	}
	if len(sourcePaths) == 0 {
		return fmt.Errorf("%w: 폴더 %s / prefix %s / 확장자 .xls,.xlsx", ErrNoSourceFiles, opts.sourcesDir, opts.sourcesPrefix)
	}
	sourceIndex, report, err := source.BuildIndex(sourcePaths)
	if err != nil {
		return err
	}

	wb, err := workbook.OpenWorkbook(opts.master)
	if err != nil {
		return err
	}
	changes, added, deleted, err := ledger.UpdateMasterSheet(wb, sourceIndex)
	if err != nil {
		return err
	}
	today := now().Format("2006-01-02")
	if !opts.noChangeLog {
		if err := ledger.UpdateChangeLog(wb, today, changes, added, deleted); err != nil {
			return err
		}
	}

	target := outpath.Target{InPlace: opts.inPlace, Explicit: opts.output}
	reservedOutput := !opts.dryRun && !opts.inPlace
	outPath, err := outpath.DecideOutputPath(opts.master, target, today, opts.dryRun)
	if err != nil {
		return err
	}
	if !opts.dryRun {
		if opts.inPlace {
			backup, err := outpath.ReserveBackupPath(opts.master, today)
			if err != nil {
				return err
			}
			if err := copyFile(opts.master, backup); err != nil {
				os.Remove(backup)
				return fmt.Errorf("백업 파일 생성 실패: %s -> %s: %w", opts.master, backup, err)
			}
			fmt.Fprintf(stderr, "[백업 생성] %s\n", backup)
		}
		if err := wb.SaveAs(outPath, !opts.fastSave); err != nil {
			if reservedOutput {
				outpath.CleanupReservation(outPath)
			}
			return err
		}
	}

	printSummary(stdout, opts, outPath, len(sourcePaths), report, changes, added, deleted)
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
