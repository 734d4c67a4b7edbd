// Package cli wires the command line surface of fcupdater: flag
// parsing, the update pipeline, and the run summary.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var runFlags = options{}

// rootCmd is the base command
var rootCmd = &cobra.Command{
	Use:   "fcupdater",
	Short: "fcupdater - 주유소 가격/정보 현행화",
	Long: `fcupdater refreshes the Chungcheong fuel-cost master workbook from
regional station price files (.xls/.xlsx), rewriting prices and station
details in place and appending a dated change log.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := runFlags
		if opts.inPlace && opts.output != "" {
			return errors.New("--in-place 와 --output 은 동시에 사용할 수 없습니다")
		}
		if opts.dryRun && opts.fastSave {
			return errors.New("--dry-run 과 --fast-save 는 동시에 사용할 수 없습니다")
		}
		return runUpdate(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts)
	},
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, date string) error {
	versionStr := version
	if versionStr == "" {
		versionStr = "dev"
	}
	if commit != "" {
		versionStr += fmt.Sprintf(" (commit: %s)", commit)
	}
	if date != "" {
		versionStr += fmt.Sprintf(" built: %s", date)
	}

	return fang.Execute(ctx, rootCmd,
		fang.WithVersion(versionStr),
	)
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&runFlags.master, "master", "fuel_cost_chungcheong.xlsx", "마스터 파일 경로")
	f.StringVar(&runFlags.sourcesDir, "sources-dir", ".", "소스 폴더")
	f.StringVar(&runFlags.sourcesPrefix, "sources-prefix", "지역_위치별(주유소)", "소스 파일 prefix")
	f.StringVar(&runFlags.output, "output", "", "출력 파일 경로 (기본: {master}_updated_{날짜}.xlsx)")
	f.BoolVar(&runFlags.inPlace, "in-place", false, "마스터 파일 덮어쓰기(백업 생성)")
	f.BoolVar(&runFlags.noChangeLog, "no-change-log", false, "변경내역 시트 갱신 안 함")
	f.BoolVar(&runFlags.dryRun, "dry-run", false, "파일 저장 없이 요약만 출력")
	f.BoolVar(&runFlags.fastSave, "fast-save", false, "저장 후 무결성 재검증 생략(속도 우선)")
}
