// Package source reads fuel station price tables from regional .xls and
// .xlsx downloads and merges them into an address-keyed index.
package source

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/krwizxp/fcupdater/internal/ledger"
)

// Error types
var (
	ErrUnsupportedSource   = errors.New("unsupported source file extension")
	ErrHeaderNotFound      = errors.New("source header row not found")
	ErrNoSourceData        = errors.New("no valid source data in any sheet")
	ErrMalformedSheet      = errors.New("malformed source worksheet")
	ErrNotCompoundFile     = errors.New("not an OLE2 compound file")
	ErrCorruptCompoundFile = errors.New("corrupt compound file")
	ErrStreamNotFound      = errors.New("compound file stream not found")
	ErrCorruptRecord       = errors.New("corrupt BIFF record")
	ErrCellOutOfBounds     = errors.New("sheet cell index out of bounds")
)

// ReadFile loads station records from one source file, dispatching on
// the extension.
func ReadFile(path string) ([]ledger.SourceRecord, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return readXLSXSource(path)
	case ".xls":
		return readXLSSource(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, path)
}
