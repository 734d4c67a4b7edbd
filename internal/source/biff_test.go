package source

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func biffRecord(id uint16, data []byte) []byte {
	out := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint16(out, id)
	binary.LittleEndian.PutUint16(out[2:], uint16(len(data)))
	copy(out[4:], data)
	return out
}

func utf16LE(s string) []byte {
	var out []byte
	for _, r := range s {
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

func labelSSTRecord(row, col int, sstIndex uint32) []byte {
	data := make([]byte, 10)
	binary.LittleEndian.PutUint16(data, uint16(row))
	binary.LittleEndian.PutUint16(data[2:], uint16(col))
	binary.LittleEndian.PutUint32(data[6:], sstIndex)
	return biffRecord(recLabelSST, data)
}

func labelRecord(row, col int, text string, wide bool) []byte {
	var chars []byte
	if wide {
		chars = utf16LE(text)
	} else {
		chars = []byte(text)
	}
	cch := len([]rune(text))
	data := make([]byte, 6, 9+len(chars))
	binary.LittleEndian.PutUint16(data, uint16(row))
	binary.LittleEndian.PutUint16(data[2:], uint16(col))
	var header [3]byte
	binary.LittleEndian.PutUint16(header[:], uint16(cch))
	if wide {
		header[2] = 0x01
	}
	data = append(data, header[:]...)
	data = append(data, chars...)
	return biffRecord(recLabel, data)
}

// sstString encodes one SST entry with 16-bit characters.
func sstWideString(s string) []byte {
	out := make([]byte, 3)
	binary.LittleEndian.PutUint16(out, uint16(len([]rune(s))))
	out[2] = 0x01
	return append(out, utf16LE(s)...)
}

func testGlobals(sheetOffset int) []byte {
	var stream []byte
	boundSheet := make([]byte, 8)
	binary.LittleEndian.PutUint32(boundSheet, uint32(sheetOffset))
	stream = append(stream, biffRecord(recBoundSheet, boundSheet)...)

	sst := make([]byte, 8)
	binary.LittleEndian.PutUint32(sst, 3)
	binary.LittleEndian.PutUint32(sst[4:], 3)
	for _, s := range []string{"지역", "상호", "주소"} {
		sst = append(sst, sstWideString(s)...)
	}
	stream = append(stream, biffRecord(recSST, sst)...)
	stream = append(stream, biffRecord(recEOF, nil)...)
	return stream
}

func TestParseBiffWorkbookStream(t *testing.T) {
	globalsLen := len(testGlobals(0))
	stream := testGlobals(globalsLen)
	// Header row from the shared string table, data row from LABEL
	// records in both character widths.
	stream = append(stream, labelSSTRecord(0, 0, 0)...)
	stream = append(stream, labelSSTRecord(0, 1, 1)...)
	stream = append(stream, labelSSTRecord(0, 2, 2)...)
	stream = append(stream, labelRecord(1, 0, "대전", true)...)
	stream = append(stream, labelRecord(1, 1, "Station1", false)...)
	stream = append(stream, labelRecord(1, 2, "대전 중구 큰길 1", true)...)
	stream = append(stream, biffRecord(recEOF, nil)...)

	globals, err := parseBiffGlobals(stream)
	if err != nil {
		t.Fatalf("parseBiffGlobals() error = %v", err)
	}
	if len(globals.boundSheets) != 1 || globals.boundSheets[0].offset != globalsLen {
		t.Fatalf("boundSheets = %+v", globals.boundSheets)
	}
	if len(globals.sharedStrings) != 3 || globals.sharedStrings[2] != "주소" {
		t.Fatalf("sharedStrings = %q", globals.sharedStrings)
	}

	rows, err := parseBiffWorksheetCells(stream, globalsLen, globals.sharedStrings, globals.codePage)
	if err != nil {
		t.Fatalf("parseBiffWorksheetCells() error = %v", err)
	}
	records, err := buildRecordsFromRows(rows)
	if err != nil {
		t.Fatalf("buildRecordsFromRows() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %+v; want one", records)
	}
	rec := records[0]
	if rec.Region != "대전" || rec.Name != "Station1" || rec.Address != "대전 중구 큰길 1" {
		t.Errorf("record = %+v", rec)
	}
}

func TestBiffCodePageDefault(t *testing.T) {
	// testGlobals carries no CODEPAGE record; legacy Korean writers omit
	// it, so single-byte text must decode as CP949.
	globals, err := parseBiffGlobals(testGlobals(0))
	if err != nil {
		t.Fatalf("parseBiffGlobals() error = %v", err)
	}
	if globals.codePage != 949 {
		t.Fatalf("codePage = %d; want 949", globals.codePage)
	}
	data := append([]byte{4, 0, 0x00}, 0xB4, 0xEB, 0xC0, 0xFC)
	text, ok, err := parseBiff8Label(data, globals.codePage)
	if err != nil || !ok {
		t.Fatalf("parseBiff8Label() = %v, %v", ok, err)
	}
	if text != "대전" {
		t.Errorf("decoded label = %q; want 대전", text)
	}
}

func TestParseSSTContinuationWidthFlip(t *testing.T) {
	// One string of four characters: a single wide char in the first
	// chunk, then a continuation restarting in compressed mode.
	chunk1 := make([]byte, 8)
	binary.LittleEndian.PutUint32(chunk1, 1)
	binary.LittleEndian.PutUint32(chunk1[4:], 1)
	chunk1 = append(chunk1, 4, 0, 0x01)
	chunk1 = append(chunk1, utf16LE("가")...)
	chunk2 := append([]byte{0x00}, []byte("abc")...)

	out, err := parseSSTFromChunks([][]byte{chunk1, chunk2}, 0)
	if err != nil {
		t.Fatalf("parseSSTFromChunks() error = %v", err)
	}
	if len(out) != 1 || out[0] != "가abc" {
		t.Errorf("parseSSTFromChunks() = %q; want [가abc]", out)
	}
}

func TestDecodeRKNumber(t *testing.T) {
	tests := []struct {
		rk   uint32
		want float64
	}{
		{0x00000002, 0},
		{12345<<2 | 0x02, 12345},
		{12345<<2 | 0x03, 123.45},
		{0xFFFFFFFC | 0x02, -1},
		{0x3FF80000, 1.5},
		{0x3FF80001, 0.015},
	}
	for _, tt := range tests {
		if got := decodeRKNumber(tt.rk); got != tt.want {
			t.Errorf("decodeRKNumber(%#08x) = %v; want %v", tt.rk, got, tt.want)
		}
	}
}

func TestValidateCellBounds(t *testing.T) {
	if err := validateCellBounds(1, 0); err != nil {
		t.Errorf("validateCellBounds(1, 0) = %v", err)
	}
	if err := validateCellBounds(0, 0); err == nil {
		t.Error("row 0 should be rejected")
	}
	if err := validateCellBounds(maxSheetRow+1, 0); err == nil {
		t.Error("row beyond the bound should be rejected")
	}
	if err := validateCellBounds(1, maxSheetCol); err == nil {
		t.Error("column beyond the bound should be rejected")
	}
}

func putU16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }

func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }

// buildCycleCFB assembles a minimal compound file whose Workbook stream
// chain points back at itself.
func buildCycleCFB() []byte {
	data := make([]byte, 512*4)
	copy(data, cfbSignature)
	putU16(data, 0x1A, 3)    // major version
	putU16(data, 0x1E, 9)    // 512-byte sectors
	putU16(data, 0x20, 6)    // 64-byte mini sectors
	putU32(data, 0x2C, 1)    // one FAT sector
	putU32(data, 0x30, 1)    // directory at sector 1
	putU32(data, 0x38, 4096) // mini stream cutoff
	putU32(data, 0x3C, cfbEndOfChain)
	putU32(data, 0x44, cfbEndOfChain)
	for i := 0; i < cfbHeaderDIFATEntries; i++ {
		putU32(data, 0x4C+i*4, cfbFreeSect)
	}
	putU32(data, 0x4C, 0) // FAT at sector 0

	fat := 512
	putU32(data, fat, cfbFATSect)
	putU32(data, fat+4, cfbEndOfChain) // directory chain
	putU32(data, fat+8, 2)             // sector 2 points at itself
	for i := 3; i < 128; i++ {
		putU32(data, fat+i*4, cfbFreeSect)
	}

	dir := 1024
	root := utf16LE("Root Entry\x00")
	copy(data[dir:], root)
	putU16(data, dir+0x40, uint16(len(root)))
	data[dir+0x42] = 5
	putU32(data, dir+0x74, cfbEndOfChain)

	entry := dir + 128
	name := utf16LE("Workbook\x00")
	copy(data[entry:], name)
	putU16(data, entry+0x40, uint16(len(name)))
	data[entry+0x42] = 2
	putU32(data, entry+0x74, 2)
	binary.LittleEndian.PutUint64(data[entry+0x78:], 8192)
	return data
}

func TestCompoundFileCycleRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cycle.xls")
	if err := os.WriteFile(path, buildCycleCFB(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	cfb, err := openCompoundFile(path)
	if err != nil {
		t.Fatalf("openCompoundFile() error = %v", err)
	}
	if _, err := cfb.streamByName("Workbook"); !errors.Is(err, ErrCorruptCompoundFile) {
		t.Errorf("streamByName() error = %v; want chain cycle rejection", err)
	}
}

func TestCompoundFileSignatureRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.xls")
	if err := os.WriteFile(path, make([]byte, 1024), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := openCompoundFile(path); !errors.Is(err, ErrNotCompoundFile) {
		t.Errorf("openCompoundFile() error = %v; want %v", err, ErrNotCompoundFile)
	}
}
