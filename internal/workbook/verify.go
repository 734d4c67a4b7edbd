package workbook

import (
	"archive/zip"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// requiredParts are the OOXML parts without which no consumer can open the
// file.
var requiredParts = []string{
	"[Content_Types].xml",
	"xl/workbook.xml",
	"xl/_rels/workbook.xml.rels",
}

// VerifySaved checks a freshly written xlsx before it replaces anything:
// the archive must contain the required OOXML parts and must reopen as a
// workbook with at least one sheet through an independent reader.
func VerifySaved(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("save verification failed: %s is not a readable archive: %w", path, err)
	}
	present := make(map[string]bool, len(zr.File))
	for _, f := range zr.File {
		present[f.Name] = true
	}
	zr.Close()
	for _, part := range requiredParts {
		if !present[part] {
			return fmt.Errorf("save verification failed: %s is missing required part %s", path, part)
		}
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("save verification failed: reopen check failed for %s: %w", path, err)
	}
	defer f.Close()
	if len(f.GetSheetList()) == 0 {
		return fmt.Errorf("save verification failed: %s has no sheets", path)
	}
	return nil
}
