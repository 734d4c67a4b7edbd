package cli

import (
	"fmt"
	"io"

	"github.com/krwizxp/fcupdater/internal/ledger"
	"github.com/krwizxp/fcupdater/internal/source"
)

const summaryListLimit = 20

func printSummary(w io.Writer, opts options, outPath string, sourceFiles int, report source.BuildReport, changes []ledger.ChangeRow, added, deleted []ledger.StoreRow) {
	fmt.Fprintln(w, "\n==== 현행화 요약 ====")
	fmt.Fprintf(w, "- 마스터: %s\n", opts.master)
	fmt.Fprintf(w, "- 소스 폴더: %s\n", opts.sourcesDir)
	fmt.Fprintf(w, "- 소스 prefix: %s\n", opts.sourcesPrefix)
	fmt.Fprintf(w, "- 소스 파일 수: %d\n", sourceFiles)
	fmt.Fprintf(w, "- 기존 업체 변경 건수(가격/정보): %d\n", len(changes))
	fmt.Fprintf(w, "- 신규 업체 추가: %d\n", len(added))
	fmt.Fprintf(w, "- 폐업 업체 삭제: %d\n", len(deleted))
	if report.DuplicateAddressConflicts > 0 {
		fmt.Fprintf(w, "- 주소 중복 충돌: %d건 (대체 반영: %d건)\n",
			report.DuplicateAddressConflicts, report.OverwrittenConflicts)
		if len(report.Samples) > 0 {
			fmt.Fprintln(w, "  충돌 상세 예시:")
			for i, sample := range report.Samples {
				fmt.Fprintf(w, "  %d. %s | 기존:%s | 신규:%s | 선택:%s\n",
					i+1, sample.Address, sample.PreviousSource, sample.IncomingSource, sample.SelectedSource)
			}
		} else if len(report.SampleAddresses) > 0 {
			fmt.Fprintln(w, "  충돌 주소 예시:")
			for i, addr := range report.SampleAddresses {
				fmt.Fprintf(w, "  %d. %s\n", i+1, addr)
			}
		}
	}
	if opts.dryRun {
		fmt.Fprintln(w, "- 출력: (dry-run) 파일 저장 안 함")
	} else {
		fmt.Fprintf(w, "- 출력: %s\n", outPath)
		if opts.fastSave {
			fmt.Fprintln(w, "- 저장 검증: 생략(--fast-save)")
		} else {
			fmt.Fprintln(w, "- 저장 검증: 사용(기본)")
		}
	}
	printStoreList(w, "신규 업체 추가 목록", added)
	printStoreList(w, "폐업 업체 삭제 목록", deleted)
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)
}

func printStoreList(w io.Writer, title string, rows []ledger.StoreRow) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(w, "\n[%s(상위 %d개)]\n", title, summaryListLimit)
	for i, item := range rows {
		if i >= summaryListLimit {
			break
		}
		fmt.Fprintf(w, "  %d. %s / %s / %s\n", i+1, item.Region, item.Name, item.Address)
	}
	if len(rows) > summaryListLimit {
		fmt.Fprintf(w, "  ... (%d개 중 %d개만 표시)\n", len(rows), summaryListLimit)
	}
}
