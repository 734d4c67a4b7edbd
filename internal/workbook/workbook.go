package workbook

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Workbook is a master workbook opened for byte-faithful editing. Sheets
// are parsed into Worksheet models; xl/workbook.xml is held as raw text so
// defined-name edits splice into it directly.
type Workbook struct {
	container     *Container
	workbookXML   string
	sharedStrings []string
	sheetOrder    []string
	sheetPaths    map[string]string
	sheets        map[string]*Worksheet
}

// OpenWorkbook opens an xlsx file and parses every worksheet.
func OpenWorkbook(path string) (*Workbook, error) {
	container, err := OpenContainer(path)
	if err != nil {
		return nil, err
	}
	catalog, err := LoadSheetCatalog(container)
	if err != nil {
		return nil, err
	}
	workbookXML, err := container.ReadText("xl/workbook.xml")
	if err != nil {
		return nil, err
	}
	sharedStrings, err := LoadSharedStrings(container)
	if err != nil {
		return nil, err
	}
	sheets := make(map[string]*Worksheet, len(catalog.Order))
	for _, name := range catalog.Order {
		partPath, ok := catalog.PathByName[name]
		if !ok {
			continue
		}
		xml, err := container.ReadText(partPath)
		if err != nil {
			return nil, err
		}
		ws, err := ParseWorksheet(xml)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", name, err)
		}
		sheets[name] = ws
	}
	return &Workbook{
		container:     container,
		workbookXML:   workbookXML,
		sharedStrings: sharedStrings,
		sheetOrder:    catalog.Order,
		sheetPaths:    catalog.PathByName,
		sheets:        sheets,
	}, nil
}

// Sheet returns the parsed worksheet for a name.
func (wb *Workbook) Sheet(name string) (*Worksheet, bool) {
	ws, ok := wb.sheets[name]
	return ws, ok
}

// SharedStrings returns the workbook's shared-string table.
func (wb *Workbook) SharedStrings() []string {
	return wb.sharedStrings
}

// SheetNames returns sheet names in workbook order.
func (wb *Workbook) SheetNames() []string {
	return append([]string(nil), wb.sheetOrder...)
}

// WorkbookXML returns the current xl/workbook.xml text.
func (wb *Workbook) WorkbookXML() string {
	return wb.workbookXML
}

// SetWorkbookXML replaces the xl/workbook.xml text.
func (wb *Workbook) SetWorkbookXML(xml string) {
	wb.workbookXML = xml
}

// SaveAs stages the edited parts and writes the archive to outPath via a
// unique temp file in the same directory. With verify set, the temp file
// must reopen cleanly before it is promoted; any failure removes the temp
// file and leaves outPath untouched.
func (wb *Workbook) SaveAs(outPath string, verify bool) error {
	if err := wb.container.WriteText("xl/workbook.xml", wb.workbookXML); err != nil {
		return err
	}
	for name, ws := range wb.sheets {
		partPath, ok := wb.sheetPaths[name]
		if !ok {
			continue
		}
		if err := wb.container.WriteText(partPath, ws.XML()); err != nil {
			return err
		}
	}
	dir := filepath.Dir(outPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}
	tmpPath, err := createUniqueTempOutput(outPath)
	if err != nil {
		return err
	}
	if err := wb.writeAndPromote(tmpPath, outPath, verify); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (wb *Workbook) writeAndPromote(tmpPath, outPath string, verify bool) error {
	tmpFile, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open temp output %s: %w", tmpPath, err)
	}
	if err := wb.container.SaveTo(tmpFile); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp output %s: %w", tmpPath, err)
	}
	if verify {
		if err := VerifySaved(tmpPath); err != nil {
			return err
		}
	}
	return promoteTempOutput(tmpPath, outPath)
}

// createUniqueTempOutput creates a hidden sibling temp file so the final
// rename never crosses filesystems.
func createUniqueTempOutput(outPath string) (string, error) {
	dir := filepath.Dir(outPath)
	if dir == "" {
		dir = "."
	}
	name := filepath.Base(outPath)
	pid := os.Getpid()
	for seq := 0; seq < 1024; seq++ {
		candidate := filepath.Join(dir, fmt.Sprintf(".%s.tmp_%d_%d_%d", name, pid, time.Now().UnixNano(), seq))
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			f.Close()
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create temp output %s: %w", candidate, err)
		}
		time.Sleep(50 * time.Microsecond)
	}
	return "", fmt.Errorf("failed to allocate a temp output path for %s", outPath)
}

// promoteTempOutput renames the temp file over the destination and syncs
// both the file and its directory. Sync failures abort only in strict
// durability mode.
func promoteTempOutput(tmpPath, outPath string) error {
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("failed to save xlsx %s: %w", outPath, err)
	}
	if err := syncPath(outPath); err != nil {
		if durabilityStrict() {
			return fmt.Errorf("failed to sync saved file %s: %w", outPath, err)
		}
		fmt.Fprintf(os.Stderr, "[warn] durability sync failed for file %s: %v\n", outPath, err)
	}
	dir := filepath.Dir(outPath)
	if err := syncPath(dir); err != nil {
		if durabilityStrict() {
			return fmt.Errorf("failed to sync output directory %s: %w", dir, err)
		}
		fmt.Fprintf(os.Stderr, "[warn] durability sync failed for directory %s: %v\n", dir, err)
	}
	return nil
}

func syncPath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

func durabilityStrict() bool {
	return envFlag("FCUPDATER_DURABILITY_STRICT")
}

func envFlag(name string) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// EnvScanLimit reads a positive integer tunable, clamped to a cap.
func EnvScanLimit(name string, def, max int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
