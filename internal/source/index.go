package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/krwizxp/fcupdater/internal/ledger"
)

// maxConflictSamples bounds how many duplicate-address examples the
// report retains for the summary.
const maxConflictSamples = 10

// ConflictSample describes one address claimed by two source files and
// which file won.
type ConflictSample struct {
	Address        string
	PreviousSource string
	IncomingSource string
	SelectedSource string
}

// BuildReport summarizes duplicate handling during index construction.
type BuildReport struct {
	DuplicateAddressConflicts int
	OverwrittenConflicts      int
	SampleAddresses           []string
	Samples                   []ConflictSample
}

// readSourceFile is swapped out in tests.
var readSourceFile = ReadFile

// FindSourceFiles lists regular files in dir whose name starts with
// prefix (case folded) and carries an .xls or .xlsx extension, ordered
// naturally so "_2" sorts before "_10".
func FindSourceFiles(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read source directory %s: %w", dir, err)
	}
	prefixFold := strings.ToLower(prefix)
	type candidate struct {
		path string
		key  []naturalPart
	}
	var candidates []candidate
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		nameFold := strings.ToLower(entry.Name())
		if !strings.HasPrefix(nameFold, prefixFold) {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".xls", ".xlsx":
			candidates = append(candidates, candidate{path: path, key: splitNaturalParts(nameFold)})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if c := compareNaturalParts(candidates[i].key, candidates[j].key); c != 0 {
			return c < 0
		}
		return candidates[i].path < candidates[j].path
	})
	paths := make([]string, len(candidates))
	for i, c := range candidates {
		paths[i] = c.path
	}
	return paths, nil
}

// BuildIndex reads every source file in order and merges the records
// into an address-keyed map. On duplicate addresses the richer record
// wins; ties go to the later file.
func BuildIndex(paths []string) (map[string]ledger.SourceRecord, BuildReport, error) {
	type indexEntry struct {
		record    ledger.SourceRecord
		score     sourcePriority
		fileOrder int
	}
	entries := map[string]indexEntry{}
	var report BuildReport
	sampledKeys := map[string]struct{}{}
	for fileOrder, path := range paths {
		records, err := readSourceFile(path)
		if err != nil {
			return nil, BuildReport{}, fmt.Errorf("read source file %s: %w", path, err)
		}
		for _, rec := range records {
			key := ledger.NormalizeAddressKey(rec.Address)
			score := priorityOf(rec)
			prev, exists := entries[key]
			if !exists {
				entries[key] = indexEntry{record: rec, score: score, fileOrder: fileOrder}
				continue
			}
			report.DuplicateAddressConflicts++
			incomingWins := score.greaterThan(prev.score) ||
				(score == prev.score && fileOrder >= prev.fileOrder)
			if len(report.SampleAddresses) < maxConflictSamples {
				if _, seen := sampledKeys[key]; !seen {
					sampledKeys[key] = struct{}{}
					previousSource := sourceLabel(paths, prev.fileOrder)
					incomingSource := filepath.Base(path)
					selectedSource := previousSource
					if incomingWins {
						selectedSource = incomingSource
					}
					report.SampleAddresses = append(report.SampleAddresses, rec.Address)
					report.Samples = append(report.Samples, ConflictSample{
						Address:        rec.Address,
						PreviousSource: previousSource,
						IncomingSource: incomingSource,
						SelectedSource: selectedSource,
					})
				}
			}
			if incomingWins {
				report.OverwrittenConflicts++
				entries[key] = indexEntry{record: rec, score: score, fileOrder: fileOrder}
			}
		}
	}
	index := make(map[string]ledger.SourceRecord, len(entries))
	for key, entry := range entries {
		index[key] = entry.record
	}
	return index, report, nil
}

// sourcePriority ranks records for duplicate resolution: more prices,
// then more populated text fields, then more text.
type sourcePriority struct {
	priceCount int
	textFields int
	textLen    int
}

func (p sourcePriority) greaterThan(o sourcePriority) bool {
	if p.priceCount != o.priceCount {
		return p.priceCount > o.priceCount
	}
	if p.textFields != o.textFields {
		return p.textFields > o.textFields
	}
	return p.textLen > o.textLen
}

func priorityOf(rec ledger.SourceRecord) sourcePriority {
	var p sourcePriority
	for _, v := range []*int{rec.Gasoline, rec.Premium, rec.Diesel} {
		if v != nil {
			p.priceCount++
		}
	}
	texts := []string{rec.Region, rec.Name, rec.Brand, rec.SelfYN, rec.Address, rec.Phone}
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			p.textFields++
		}
		p.textLen += len(t)
	}
	return p
}

func sourceLabel(paths []string, order int) string {
	if order >= 0 && order < len(paths) {
		return filepath.Base(paths[order])
	}
	return fmt.Sprintf("#%d", order)
}

// naturalPart is one digit or text run of a lowercased file name.
// Numbers compare by normalized magnitude before raw length, so
// "file_2" < "file_10" and "file_002" > "file_02".
type naturalPart struct {
	isNumber   bool
	text       string
	normalized string
	rawLen     int
}

func splitNaturalParts(s string) []naturalPart {
	var out []naturalPart
	var buf strings.Builder
	digitMode := false
	started := false
	flush := func() {
		raw := buf.String()
		buf.Reset()
		if raw == "" {
			return
		}
		if digitMode {
			normalized := strings.TrimLeft(raw, "0")
			if normalized == "" {
				normalized = "0"
			}
			out = append(out, naturalPart{isNumber: true, normalized: normalized, rawLen: len(raw)})
		} else {
			out = append(out, naturalPart{text: raw})
		}
	}
	for _, r := range s {
		isDigit := r >= '0' && r <= '9'
		if started && isDigit != digitMode {
			flush()
		}
		started = true
		digitMode = isDigit
		buf.WriteRune(r)
	}
	flush()
	return out
}

func compareNaturalParts(a, b []naturalPart) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if c := compareNaturalPart(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func compareNaturalPart(a, b naturalPart) int {
	switch {
	case a.isNumber && b.isNumber:
		if len(a.normalized) != len(b.normalized) {
			if len(a.normalized) < len(b.normalized) {
				return -1
			}
			return 1
		}
		if c := strings.Compare(a.normalized, b.normalized); c != 0 {
			return c
		}
		switch {
		case a.rawLen < b.rawLen:
			return -1
		case a.rawLen > b.rawLen:
			return 1
		}
		return 0
	case a.isNumber:
		return -1
	case b.isNumber:
		return 1
	}
	return strings.Compare(a.text, b.text)
}
