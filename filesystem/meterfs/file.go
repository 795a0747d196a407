package meterfs

// openFile is the in-memory state of an open file (§3 "Open file"). It is
// never itself persisted; firstIdx/firstOff/lastIdx/lastOff/recordCnt are
// rebuilt by the scanner whenever a file is first looked up, and reset to
// the empty state by Resize when its geometry changes.
type openFile struct {
	header FileHeader

	firstIdx index
	firstOff uint32
	lastIdx  index
	lastOff  uint32

	recordCnt uint32

	// earlyErased indicates the sector ahead of lastOff has already been
	// pre-erased, so a crash after erase but before the next program still
	// leaves the newest record intact on recovery.
	earlyErased bool
}

// capacity is the maximum number of live records the file can hold.
func (f *openFile) capacity() uint32 {
	if f.header.RecordSZ == 0 {
		return 0
	}
	return f.header.FileSZ / f.header.RecordSZ
}

// totalSlots is the number of record slots the file's sector run can hold,
// i.e. the physical ring size (always >= capacity: Allocate and Resize
// reject layouts whose slots cannot hold capacity records with their entry
// headers).
func (f *openFile) totalSlots(sectorsz uint32) uint32 {
	stride := recordStride(f.header.RecordSZ)
	return (f.header.SectorCnt * sectorsz) / stride
}

// empty reports whether the scanner found no valid record at all.
func (f *openFile) empty() bool {
	return !f.firstIdx.valid
}

// baseOffset is the byte offset of the file's sector run relative to
// fs.dataBase: header.Sector is a data-sector index, zero at the first
// sector after both header regions, not an absolute region offset.
func (f *openFile) baseOffset(sectorsz uint32) uint32 {
	return f.header.Sector * sectorsz
}
