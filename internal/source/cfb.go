package source

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// OLE2 compound file binary format, the envelope around legacy .xls
// workbook streams.

var cfbSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

const (
	cfbFreeSect   = 0xFFFFFFFF
	cfbEndOfChain = 0xFFFFFFFE
	cfbFATSect    = 0xFFFFFFFD
	cfbDIFATSect  = 0xFFFFFFFC
)

const cfbHeaderDIFATEntries = 109

type cfbDirEntry struct {
	name        string
	objectType  byte
	startSector uint32
	streamSize  uint64
}

type cfbHeader struct {
	majorVersion       uint16
	sectorSize         int
	miniSectorSize     int
	numFATSectors      uint32
	firstDirSector     uint32
	miniStreamCutoff   uint32
	firstMiniFATSector uint32
	numMiniFATSectors  uint32
	firstDIFATSector   uint32
	numDIFATSectors    uint32
}

type cfbFile struct {
	data             []byte
	sectorSize       int
	miniSectorSize   int
	miniStreamCutoff uint32
	fat              []uint32
	miniFAT          []uint32
	rootStream       []byte
	directory        []cfbDirEntry
}

func openCompoundFile(path string) (*cfbFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read xls file %s: %w", path, err)
	}
	if len(data) < 512 || !bytes.HasPrefix(data, cfbSignature) {
		return nil, fmt.Errorf("%w: %s", ErrNotCompoundFile, path)
	}
	header, err := parseCFBHeader(data)
	if err != nil {
		return nil, err
	}
	difatEntries, err := collectDIFATEntries(data, header)
	if err != nil {
		return nil, err
	}
	if n := int(header.numFATSectors); len(difatEntries) > n {
		difatEntries = difatEntries[:n]
	}
	if len(difatEntries) == 0 {
		return nil, fmt.Errorf("%w: no FAT sectors", ErrCorruptCompoundFile)
	}
	fat, err := buildFATTable(data, header.sectorSize, difatEntries)
	if err != nil {
		return nil, err
	}
	dirStream, err := readFATChain(data, header.sectorSize, fat, header.firstDirSector, 0, false, "directory")
	if err != nil {
		return nil, err
	}
	directory := parseDirEntries(dirStream, header.majorVersion)
	var root *cfbDirEntry
	for i := range directory {
		if directory[i].objectType == 5 {
			root = &directory[i]
			break
		}
	}
	if root == nil {
		return nil, fmt.Errorf("%w: missing root entry", ErrCorruptCompoundFile)
	}
	rootStream, err := readFATChain(data, header.sectorSize, fat, root.startSector, root.streamSize, true, "root stream")
	if err != nil {
		return nil, err
	}
	miniFAT, err := buildMiniFATTable(data, fat, header)
	if err != nil {
		return nil, err
	}
	return &cfbFile{
		data:             data,
		sectorSize:       header.sectorSize,
		miniSectorSize:   header.miniSectorSize,
		miniStreamCutoff: header.miniStreamCutoff,
		fat:              fat,
		miniFAT:          miniFAT,
		rootStream:       rootStream,
		directory:        directory,
	}, nil
}

// streamByName reads a named stream. Streams below the cutoff size live
// in the mini stream carved out of the root entry.
func (f *cfbFile) streamByName(name string) ([]byte, error) {
	for _, entry := range f.directory {
		if entry.objectType != 2 || entry.name != name {
			continue
		}
		if entry.streamSize < uint64(f.miniStreamCutoff) && isRegularSector(entry.startSector) {
			return f.readMiniChain(entry.startSector, entry.streamSize, name)
		}
		return readFATChain(f.data, f.sectorSize, f.fat, entry.startSector, entry.streamSize, true, name)
	}
	return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, name)
}

func (f *cfbFile) readMiniChain(startSector uint32, size uint64, name string) ([]byte, error) {
	var out []byte
	sid := startSector
	seen := map[uint32]struct{}{}
	for sid != cfbEndOfChain {
		if _, dup := seen[sid]; dup {
			return nil, fmt.Errorf("%w: mini stream chain cycle in %s", ErrCorruptCompoundFile, name)
		}
		seen[sid] = struct{}{}
		offset := int(sid) * f.miniSectorSize
		end := offset + f.miniSectorSize
		if offset < 0 || end > len(f.rootStream) {
			return nil, fmt.Errorf("%w: mini sector %d out of range in %s", ErrCorruptCompoundFile, sid, name)
		}
		out = append(out, f.rootStream[offset:end]...)
		if int(sid) >= len(f.miniFAT) {
			return nil, fmt.Errorf("%w: mini FAT index %d out of range", ErrCorruptCompoundFile, sid)
		}
		next := f.miniFAT[sid]
		if next == cfbFreeSect {
			break
		}
		sid = next
	}
	return truncateToSize(out, size)
}

func parseCFBHeader(data []byte) (cfbHeader, error) {
	sectorShift := binary.LittleEndian.Uint16(data[0x1E:])
	miniShift := binary.LittleEndian.Uint16(data[0x20:])
	if sectorShift >= 31 || miniShift >= 31 {
		return cfbHeader{}, fmt.Errorf("%w: sector shift %d/%d", ErrCorruptCompoundFile, sectorShift, miniShift)
	}
	sectorSize := 1 << sectorShift
	if sectorSize < 512 {
		return cfbHeader{}, fmt.Errorf("%w: unsupported sector size %d", ErrCorruptCompoundFile, sectorSize)
	}
	return cfbHeader{
		majorVersion:       binary.LittleEndian.Uint16(data[0x1A:]),
		sectorSize:         sectorSize,
		miniSectorSize:     1 << miniShift,
		numFATSectors:      binary.LittleEndian.Uint32(data[0x2C:]),
		firstDirSector:     binary.LittleEndian.Uint32(data[0x30:]),
		miniStreamCutoff:   binary.LittleEndian.Uint32(data[0x38:]),
		firstMiniFATSector: binary.LittleEndian.Uint32(data[0x3C:]),
		numMiniFATSectors:  binary.LittleEndian.Uint32(data[0x40:]),
		firstDIFATSector:   binary.LittleEndian.Uint32(data[0x44:]),
		numDIFATSectors:    binary.LittleEndian.Uint32(data[0x48:]),
	}, nil
}

// collectDIFATEntries gathers FAT sector ids from the 109 header slots
// and then from the DIFAT sector chain.
func collectDIFATEntries(data []byte, header cfbHeader) ([]uint32, error) {
	var entries []uint32
	for i := 0; i < cfbHeaderDIFATEntries; i++ {
		off := 0x4C + i*4
		if off+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated header DIFAT", ErrCorruptCompoundFile)
		}
		sid := binary.LittleEndian.Uint32(data[off:])
		if isRegularSector(sid) {
			entries = append(entries, sid)
		}
	}
	if header.numDIFATSectors == 0 {
		return entries, nil
	}
	sid := header.firstDIFATSector
	seen := map[uint32]struct{}{}
	for i := uint32(0); i < header.numDIFATSectors; i++ {
		if !isRegularSector(sid) {
			break
		}
		if _, dup := seen[sid]; dup {
			break
		}
		seen[sid] = struct{}{}
		sector, err := sectorSlice(data, header.sectorSize, sid)
		if err != nil {
			return nil, err
		}
		entriesPerSector := header.sectorSize/4 - 1
		for idx := 0; idx < entriesPerSector; idx++ {
			entry := binary.LittleEndian.Uint32(sector[idx*4:])
			if isRegularSector(entry) {
				entries = append(entries, entry)
			}
		}
		sid = binary.LittleEndian.Uint32(sector[entriesPerSector*4:])
	}
	return entries, nil
}

func buildFATTable(data []byte, sectorSize int, fatSectorIDs []uint32) ([]uint32, error) {
	fat := make([]uint32, 0, len(fatSectorIDs)*(sectorSize/4))
	for _, sid := range fatSectorIDs {
		sector, err := sectorSlice(data, sectorSize, sid)
		if err != nil {
			return nil, err
		}
		for i := 0; i < sectorSize/4; i++ {
			fat = append(fat, binary.LittleEndian.Uint32(sector[i*4:]))
		}
	}
	return fat, nil
}

func buildMiniFATTable(data []byte, fat []uint32, header cfbHeader) ([]uint32, error) {
	if header.numMiniFATSectors == 0 || !isRegularSector(header.firstMiniFATSector) {
		return nil, nil
	}
	limit := uint64(header.numMiniFATSectors) * uint64(header.sectorSize)
	raw, err := readFATChain(data, header.sectorSize, fat, header.firstMiniFATSector, limit, true, "mini FAT")
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, len(raw)/4)
	for i := 0; i+4 <= len(raw); i += 4 {
		out = append(out, binary.LittleEndian.Uint32(raw[i:]))
	}
	return out, nil
}

func isRegularSector(v uint32) bool {
	switch v {
	case cfbFreeSect, cfbEndOfChain, cfbFATSect, cfbDIFATSect:
		return false
	}
	return true
}

// readFATChain follows a sector chain, detecting cycles and invalid
// links. A non-regular start sector yields an empty stream.
func readFATChain(data []byte, sectorSize int, fat []uint32, startSector uint32, sizeLimit uint64, limited bool, streamName string) ([]byte, error) {
	if !isRegularSector(startSector) {
		return nil, nil
	}
	var out []byte
	sid := startSector
	seen := map[uint32]struct{}{}
	for sid != cfbEndOfChain {
		if !isRegularSector(sid) {
			return nil, fmt.Errorf("%w: invalid sector id %#x in FAT chain of %s", ErrCorruptCompoundFile, sid, streamName)
		}
		if _, dup := seen[sid]; dup {
			return nil, fmt.Errorf("%w: FAT chain cycle in %s (sector=%d)", ErrCorruptCompoundFile, streamName, sid)
		}
		seen[sid] = struct{}{}
		sector, err := sectorSlice(data, sectorSize, sid)
		if err != nil {
			return nil, err
		}
		out = append(out, sector...)
		if int(sid) >= len(fat) {
			return nil, fmt.Errorf("%w: FAT index %d out of range", ErrCorruptCompoundFile, sid)
		}
		next := fat[sid]
		if next == cfbFreeSect {
			break
		}
		sid = next
	}
	if limited {
		return truncateToSize(out, sizeLimit)
	}
	return out, nil
}

func truncateToSize(buf []byte, size uint64) ([]byte, error) {
	if size > uint64(len(buf)) {
		return buf, nil
	}
	return buf[:size], nil
}

func sectorSlice(data []byte, sectorSize int, sectorID uint32) ([]byte, error) {
	start := (int(sectorID) + 1) * sectorSize
	end := start + sectorSize
	if start < 0 || end > len(data) || end < start {
		return nil, fmt.Errorf("%w: sector %d out of range (size=%d)", ErrCorruptCompoundFile, sectorID, sectorSize)
	}
	return data[start:end], nil
}

// parseDirEntries walks 128-byte directory records. Names are stored as
// UTF-16LE including a trailing NUL counted in the length field.
func parseDirEntries(dirStream []byte, majorVersion uint16) []cfbDirEntry {
	var entries []cfbDirEntry
	for cursor := 0; cursor+128 <= len(dirStream); cursor += 128 {
		entry := dirStream[cursor : cursor+128]
		nameLen := int(binary.LittleEndian.Uint16(entry[0x40:]))
		size := binary.LittleEndian.Uint64(entry[0x78:])
		if majorVersion == 3 {
			size &= 0xFFFFFFFF
		}
		name := ""
		if nameLen >= 2 && nameLen <= 64 {
			name = decodeUTF16LE(entry[:nameLen-2])
		}
		entries = append(entries, cfbDirEntry{
			name:        name,
			objectType:  entry[0x42],
			startSector: binary.LittleEndian.Uint32(entry[0x74:]),
			streamSize:  size,
		})
	}
	return entries
}
