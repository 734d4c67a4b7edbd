package source

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/krwizxp/fcupdater/internal/ledger"
	"github.com/krwizxp/fcupdater/internal/textenc"
)

// BIFF8 record ids used by the cell reader.
const (
	recEOF        = 0x000A
	recCodePage   = 0x0042
	recBoundSheet = 0x0085
	recMulRK      = 0x00BD
	recSST        = 0x00FC
	recLabelSST   = 0x00FD
	recNumber     = 0x0203
	recLabel      = 0x0204
	recRK         = 0x027E
	recContinue   = 0x003C
)

type biffBoundSheet struct {
	offset    int
	sheetType byte
}

type biffGlobals struct {
	sharedStrings []string
	boundSheets   []biffBoundSheet
	codePage      uint16
}

// defaultBiffCodePage applies when the stream carries no CODEPAGE
// record; legacy Korean writers often omit it.
const defaultBiffCodePage = 949

func readXLSSource(path string) ([]ledger.SourceRecord, error) {
	cfb, err := openCompoundFile(path)
	if err != nil {
		return nil, err
	}
	stream, err := cfb.streamByName("Workbook")
	if err != nil {
		if stream, err = cfb.streamByName("Book"); err != nil {
			return nil, err
		}
	}
	globals, err := parseBiffGlobals(stream)
	if err != nil {
		return nil, err
	}
	var all []ledger.SourceRecord
	var lastErr error
	for _, sheet := range globals.boundSheets {
		if sheet.sheetType != 0 {
			continue
		}
		rows, err := parseBiffWorksheetCells(stream, sheet.offset, globals.sharedStrings, globals.codePage)
		if err != nil {
			return nil, err
		}
		records, err := buildRecordsFromRows(rows)
		switch {
		case err != nil:
			lastErr = err
		case len(records) > 0:
			all = append(all, records...)
		}
	}
	if len(all) > 0 {
		return all, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w (%v)", ErrNoSourceData, lastErr)
	}
	return nil, ErrNoSourceData
}

// parseBiffGlobals walks the workbook globals substream collecting
// bound sheets, the code page and the shared string table. The EOF
// record ends the scan only once at least one bound sheet was seen;
// some writers emit stray EOFs early in the stream.
func parseBiffGlobals(stream []byte) (*biffGlobals, error) {
	codePage := detectBiffCodePage(stream)
	if codePage == 0 {
		codePage = defaultBiffCodePage
	}
	globals := &biffGlobals{codePage: codePage}
	pos := 0
	for pos+4 <= len(stream) {
		recordID := binary.LittleEndian.Uint16(stream[pos:])
		recordLen := int(binary.LittleEndian.Uint16(stream[pos+2:]))
		dataStart := pos + 4
		dataEnd := dataStart + recordLen
		if dataEnd > len(stream) {
			return nil, fmt.Errorf("%w: truncated globals record %#04x", ErrCorruptRecord, recordID)
		}
		data := stream[dataStart:dataEnd]
		switch {
		case recordID == recBoundSheet && len(data) >= 8:
			globals.boundSheets = append(globals.boundSheets, biffBoundSheet{
				offset:    int(binary.LittleEndian.Uint32(data)),
				sheetType: data[5],
			})
		case recordID == recCodePage && len(data) >= 2:
			globals.codePage = binary.LittleEndian.Uint16(data)
		case recordID == recSST:
			chunks := [][]byte{data}
			next := dataEnd
			for next+4 <= len(stream) {
				nextID := binary.LittleEndian.Uint16(stream[next:])
				nextLen := int(binary.LittleEndian.Uint16(stream[next+2:]))
				nextStart := next + 4
				nextEnd := nextStart + nextLen
				if nextEnd > len(stream) || nextID != recContinue {
					break
				}
				chunks = append(chunks, stream[nextStart:nextEnd])
				next = nextEnd
			}
			shared, err := parseSSTFromChunks(chunks, globals.codePage)
			if err != nil {
				return nil, err
			}
			globals.sharedStrings = shared
			pos = next
			continue
		}
		pos = dataEnd
		if recordID == recEOF && len(globals.boundSheets) > 0 {
			break
		}
	}
	if len(globals.boundSheets) == 0 {
		return nil, fmt.Errorf("%w: no BoundSheet record", ErrCorruptRecord)
	}
	return globals, nil
}

// detectBiffCodePage pre-scans for the CODEPAGE record so SST decoding
// works even when the record appears after the string table. Returns 0
// when the stream carries none.
func detectBiffCodePage(stream []byte) uint16 {
	pos := 0
	for pos+4 <= len(stream) {
		recordID := binary.LittleEndian.Uint16(stream[pos:])
		recordLen := int(binary.LittleEndian.Uint16(stream[pos+2:]))
		dataStart := pos + 4
		dataEnd := dataStart + recordLen
		if dataEnd < dataStart || dataEnd > len(stream) {
			break
		}
		if recordID == recCodePage && recordLen >= 2 {
			return binary.LittleEndian.Uint16(stream[dataStart:])
		}
		pos = dataEnd
		if recordID == recEOF {
			break
		}
	}
	return 0
}

// sstReader reads the shared string table across an SST record and its
// CONTINUE chunks. Each continuation restates the string width flag, so
// a string may switch between 8-bit and 16-bit characters mid-way.
type sstReader struct {
	chunks     [][]byte
	chunkIndex int
	offset     int
	codePage   uint16
}

func (r *sstReader) ensureAvailable() error {
	for r.chunkIndex < len(r.chunks) && r.offset >= len(r.chunks[r.chunkIndex]) {
		r.chunkIndex++
		r.offset = 0
	}
	if r.chunkIndex >= len(r.chunks) {
		return fmt.Errorf("%w: SST data shorter than declared", ErrCorruptRecord)
	}
	return nil
}

func (r *sstReader) readU8() (byte, error) {
	if err := r.ensureAvailable(); err != nil {
		return 0, err
	}
	b := r.chunks[r.chunkIndex][r.offset]
	r.offset++
	return b, nil
}

func (r *sstReader) readU16() (uint16, error) {
	b0, err := r.readU8()
	if err != nil {
		return 0, err
	}
	b1, err := r.readU8()
	if err != nil {
		return 0, err
	}
	return uint16(b0) | uint16(b1)<<8, nil
}

func (r *sstReader) readU32() (uint32, error) {
	lo, err := r.readU16()
	if err != nil {
		return 0, err
	}
	hi, err := r.readU16()
	if err != nil {
		return 0, err
	}
	return uint32(lo) | uint32(hi)<<16, nil
}

func (r *sstReader) skip(n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.readU8(); err != nil {
			return err
		}
	}
	return nil
}

func (r *sstReader) readUnicodeChars(charCount int, highByte bool) (string, error) {
	var out strings.Builder
	remaining := charCount
	continuation := false
	for remaining > 0 {
		if err := r.ensureAvailable(); err != nil {
			return "", err
		}
		if continuation && r.offset == 0 {
			option, err := r.readU8()
			if err != nil {
				return "", err
			}
			highByte = option&0x01 != 0
			if err := r.ensureAvailable(); err != nil {
				return "", err
			}
		}
		chunk := r.chunks[r.chunkIndex]
		available := len(chunk) - r.offset
		bytesPerChar := 1
		if highByte {
			bytesPerChar = 2
		}
		charsHere := available / bytesPerChar
		if charsHere > remaining {
			charsHere = remaining
		}
		if charsHere == 0 {
			r.chunkIndex++
			r.offset = 0
			continuation = true
			continue
		}
		byteLen := charsHere * bytesPerChar
		raw := chunk[r.offset : r.offset+byteLen]
		if highByte {
			out.WriteString(decodeUTF16LE(raw))
		} else {
			decoded, err := textenc.Decode(raw, r.codePage)
			if err != nil {
				return "", err
			}
			out.WriteString(decoded)
		}
		r.offset += byteLen
		remaining -= charsHere
		if remaining > 0 && r.offset >= len(chunk) {
			r.chunkIndex++
			r.offset = 0
			continuation = true
		} else {
			continuation = false
		}
	}
	return out.String(), nil
}

func parseSSTFromChunks(chunks [][]byte, codePage uint16) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	r := &sstReader{chunks: chunks, codePage: codePage}
	if _, err := r.readU32(); err != nil { // total count, unused
		return nil, err
	}
	uniqueCount, err := r.readU32()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, uniqueCount)
	for i := uint32(0); i < uniqueCount; i++ {
		charCount, err := r.readU16()
		if err != nil {
			return nil, err
		}
		flags, err := r.readU8()
		if err != nil {
			return nil, err
		}
		highByte := flags&0x01 != 0
		richRuns := 0
		if flags&0x08 != 0 {
			n, err := r.readU16()
			if err != nil {
				return nil, err
			}
			richRuns = int(n)
		}
		extLen := 0
		if flags&0x04 != 0 {
			n, err := r.readU32()
			if err != nil {
				return nil, err
			}
			extLen = int(n)
		}
		value, err := r.readUnicodeChars(int(charCount), highByte)
		if err != nil {
			return nil, err
		}
		if err := r.skip(richRuns * 4); err != nil {
			return nil, err
		}
		if err := r.skip(extLen); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, nil
}

// sparseRows accumulates cells keyed by row then column.
type sparseRows map[int]map[int]cellValue

func (s sparseRows) set(row, col int, v cellValue) {
	cells, ok := s[row]
	if !ok {
		cells = map[int]cellValue{}
		s[row] = cells
	}
	cells[col] = v
}

func parseBiffWorksheetCells(stream []byte, sheetOffset int, shared []string, codePage uint16) ([]numberedRow, error) {
	if sheetOffset < 0 || sheetOffset >= len(stream) {
		return nil, fmt.Errorf("%w: worksheet offset %d out of range", ErrCorruptRecord, sheetOffset)
	}
	rows := sparseRows{}
	pos := sheetOffset
	for pos+4 <= len(stream) {
		recordID := binary.LittleEndian.Uint16(stream[pos:])
		recordLen := int(binary.LittleEndian.Uint16(stream[pos+2:]))
		dataStart := pos + 4
		dataEnd := dataStart + recordLen
		if dataEnd > len(stream) {
			return nil, fmt.Errorf("%w: truncated worksheet record %#04x", ErrCorruptRecord, recordID)
		}
		data := stream[dataStart:dataEnd]
		pos = dataEnd
		stop, err := handleWorksheetRecord(recordID, data, shared, codePage, rows)
		if err != nil {
			return nil, err
		}
		if stop {
			break
		}
	}
	return finalizeSparseRows(rows), nil
}

func handleWorksheetRecord(recordID uint16, data []byte, shared []string, codePage uint16, rows sparseRows) (bool, error) {
	switch recordID {
	case recLabelSST:
		return false, handleLabelSSTRecord(data, shared, rows)
	case recNumber:
		return false, handleNumberRecord(data, rows)
	case recRK:
		return false, handleRKRecord(data, rows)
	case recMulRK:
		return false, handleMulRKRecord(data, rows)
	case recLabel:
		return false, handleLabelRecord(data, codePage, rows)
	case recEOF:
		return true, nil
	}
	return false, nil
}

func handleLabelSSTRecord(data []byte, shared []string, rows sparseRows) error {
	if len(data) < 10 {
		return nil
	}
	row := int(binary.LittleEndian.Uint16(data)) + 1
	col := int(binary.LittleEndian.Uint16(data[2:]))
	if err := validateCellBounds(row, col); err != nil {
		return err
	}
	idx := int(binary.LittleEndian.Uint32(data[6:]))
	value := ""
	if idx >= 0 && idx < len(shared) {
		value = shared[idx]
	}
	rows.set(row, col, textCell(value))
	return nil
}

func handleNumberRecord(data []byte, rows sparseRows) error {
	if len(data) < 14 {
		return nil
	}
	row := int(binary.LittleEndian.Uint16(data)) + 1
	col := int(binary.LittleEndian.Uint16(data[2:]))
	if err := validateCellBounds(row, col); err != nil {
		return err
	}
	rows.set(row, col, numberCell(math.Float64frombits(binary.LittleEndian.Uint64(data[6:]))))
	return nil
}

func handleRKRecord(data []byte, rows sparseRows) error {
	if len(data) < 10 {
		return nil
	}
	row := int(binary.LittleEndian.Uint16(data)) + 1
	col := int(binary.LittleEndian.Uint16(data[2:]))
	if err := validateCellBounds(row, col); err != nil {
		return err
	}
	rows.set(row, col, numberCell(decodeRKNumber(binary.LittleEndian.Uint32(data[6:]))))
	return nil
}

func handleMulRKRecord(data []byte, rows sparseRows) error {
	if len(data) < 10 {
		return nil
	}
	row := int(binary.LittleEndian.Uint16(data)) + 1
	colFirst := int(binary.LittleEndian.Uint16(data[2:]))
	colLast := int(binary.LittleEndian.Uint16(data[len(data)-2:]))
	if err := validateCellBounds(row, colFirst); err != nil {
		return err
	}
	if err := validateCellBounds(row, colLast); err != nil {
		return err
	}
	offset := 4
	col := colFirst
	for offset+6 <= len(data)-2 && col <= colLast {
		rk := binary.LittleEndian.Uint32(data[offset+2:])
		rows.set(row, col, numberCell(decodeRKNumber(rk)))
		offset += 6
		col++
	}
	return nil
}

func handleLabelRecord(data []byte, codePage uint16, rows sparseRows) error {
	if len(data) < 9 {
		return nil
	}
	text, ok, err := parseBiff8Label(data[6:], codePage)
	if err != nil || !ok {
		return err
	}
	row := int(binary.LittleEndian.Uint16(data)) + 1
	col := int(binary.LittleEndian.Uint16(data[2:]))
	if err := validateCellBounds(row, col); err != nil {
		return err
	}
	rows.set(row, col, textCell(text))
	return nil
}

func parseBiff8Label(data []byte, codePage uint16) (string, bool, error) {
	if len(data) < 3 {
		return "", false, nil
	}
	cch := int(binary.LittleEndian.Uint16(data))
	highByte := data[2]&0x01 != 0
	byteLen := cch
	if highByte {
		byteLen = cch * 2
	}
	if len(data) < 3+byteLen {
		return "", false, nil
	}
	raw := data[3 : 3+byteLen]
	if highByte {
		return decodeUTF16LE(raw), true, nil
	}
	decoded, err := textenc.Decode(raw, codePage)
	if err != nil {
		return "", false, err
	}
	return decoded, true, nil
}

func finalizeSparseRows(rows sparseRows) []numberedRow {
	if len(rows) == 0 {
		return nil
	}
	nums := make([]int, 0, len(rows))
	for n := range rows {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	out := make([]numberedRow, 0, len(nums))
	for _, n := range nums {
		cells := rows[n]
		maxCol := -1
		for col := range cells {
			if col > maxCol {
				maxCol = col
			}
		}
		dense := make([]cellValue, maxCol+1)
		for col, v := range cells {
			dense[col] = v
		}
		out = append(out, numberedRow{num: n, cells: dense})
	}
	return out
}

// decodeRKNumber expands the packed 30-bit RK representation: bit 0
// divides by 100, bit 1 selects a signed integer over truncated float
// bits.
func decodeRKNumber(rk uint32) float64 {
	var value float64
	if rk&0x02 != 0 {
		value = float64(int32(rk) >> 2)
	} else {
		value = math.Float64frombits(uint64(rk&0xFFFFFFFC) << 32)
	}
	if rk&0x01 != 0 {
		value /= 100
	}
	return value
}

func decodeUTF16LE(b []byte) string {
	units := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		units = append(units, binary.LittleEndian.Uint16(b[i:]))
	}
	return string(utf16.Decode(units))
}
