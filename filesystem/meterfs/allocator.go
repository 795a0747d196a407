package meterfs

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// totalDataSectors is the number of sector slots available to files, i.e.
// everything in the region after both header regions.
func (fs *FS) totalDataSectors() uint32 {
	return (fs.region.Size - 2*fs.headerSize) / fs.region.SectorSZ
}

// usedSectors builds a bitset marking every data sector currently claimed
// by a file in the live file table. It is a cheap consistency aid on top
// of the authoritative file table scan below, not a replacement for it: a
// bit set twice (an overlapping allocation slipping through a bug
// elsewhere) is caught by claimSectors before it can corrupt a ring.
func (fs *FS) usedSectors() (*bitset.BitSet, error) {
	total := fs.totalDataSectors()
	bs := bitset.New(uint(total))
	for i := 0; i < fs.fileCount; i++ {
		fh, err := fs.fileHeaderAt(fs.liveBase, i)
		if err != nil {
			return nil, err
		}
		if err := fs.claimSectors(bs, fh.Sector, fh.SectorCnt); err != nil {
			return nil, err
		}
	}
	return bs, nil
}

// claimSectors marks [sector, sector+cnt) as used in bs, returning
// ErrCorruptHeader if any of those sectors were already claimed - the file
// table itself is supposed to guarantee non-overlap, so this firing means
// the live table is inconsistent.
func (fs *FS) claimSectors(bs *bitset.BitSet, sector, cnt uint32) error {
	for s := sector; s < sector+cnt; s++ {
		if bs.Test(uint(s)) {
			return fmt.Errorf("%w: file table claims sector %d twice", ErrCorruptHeader, s)
		}
		bs.Set(uint(s))
	}
	return nil
}

// findFreeRun linear-scans bs for the first run of need consecutive clear
// bits within [0, total). Free-space search has no analogue to the
// descriptor-id gap tree's ordering requirement (any run will do; there's
// no "smallest id" concept for raw sector ranges), so a scan is the
// straightforward approach here - unlike allocateID, this is not the
// algorithm the design calls out as load-bearing.
func findFreeRun(bs *bitset.BitSet, total, need uint32) (uint32, bool) {
	if need == 0 || need > total {
		return 0, false
	}
	run := uint32(0)
	start := uint32(0)
	for i := uint32(0); i < total; i++ {
		if bs.Test(uint(i)) {
			run = 0
			start = i + 1
			continue
		}
		run++
		if run == need {
			return start, true
		}
	}
	return 0, false
}

// Allocate implements §4.7's allocate: register a new preallocated
// circular file named name, spanning sectorcnt sectors, holding
// fixed-size records of recordsz bytes up to a logical size of filesz
// bytes, and return its descriptor id.
func (fs *FS) Allocate(name string, sectorcnt uint32, filesz, recordsz uint32, ncrypt bool) (uint32, error) {
	release, err := fs.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	if name == "" || len(name) > 8 {
		return 0, fmt.Errorf("%w: file name must be 1-8 bytes", ErrInvalid)
	}
	if recordsz == 0 || recordsz > filesz || sectorcnt < 2 {
		return 0, fmt.Errorf("%w: recordsz/filesz/sectorcnt out of range", ErrInvalid)
	}
	if (sectorcnt*fs.region.SectorSZ)/recordStride(recordsz) < filesz/recordsz {
		return 0, fmt.Errorf("%w: %d records do not fit in %d sectors", ErrInvalid, filesz/recordsz, sectorcnt)
	}
	if ncrypt && fs.crypto == nil {
		return 0, fmt.Errorf("%w: encryption requested but no key was supplied at mount", ErrInvalid)
	}
	if fs.fileCount >= fs.maxFileCnt {
		return 0, fmt.Errorf("%w: file table is full (%d entries)", ErrNoSpace, fs.maxFileCnt)
	}
	if _, _, err := fs.findFileHeader(name); err == nil {
		return 0, ErrAlreadyExists
	}

	bs, err := fs.usedSectors()
	if err != nil {
		return 0, err
	}
	sector, ok := findFreeRun(bs, fs.totalDataSectors(), sectorcnt)
	if !ok {
		return 0, fmt.Errorf("%w: no contiguous run of %d sectors free", ErrNoSpace, sectorcnt)
	}

	fh := FileHeader{
		Sector:    sector,
		FileSZ:    filesz,
		RecordSZ:  recordsz,
		Name:      nameOf(name),
		UID:       fs.nextUID(),
		SectorCnt: sectorcnt,
		Ncrypt:    ncrypt,
	}

	for s := sector; s < sector+sectorcnt; s++ {
		if err := fs.dev.EraseSector(fs.dataBase + s*fs.region.SectorSZ); err != nil {
			return 0, fmt.Errorf("%w: erase new file's sectors: %v", ErrIOError, err)
		}
	}

	if err := fs.updateFileTable(-1, &fh); err != nil {
		return 0, err
	}

	id, ok := fs.cache.allocateID()
	if !ok {
		return 0, fmt.Errorf("%w: descriptor id space exhausted", ErrNoSpace)
	}
	of := &openFile{header: fh}
	node := fs.cache.insert(id, of)
	node.refs = 0 // allocating a file does not itself open it

	fs.log.WithField("name", name).WithField("id", id).Info("allocated file")
	return id, nil
}

// nextUID derives a UID for a new file from the header generation and
// file count, which is enough to keep (sector, uid) pairs - the crypto
// nonce salt - from repeating across a chip's lifetime as long as files
// are not re-allocated into the exact same sector with the exact same
// generation, which updateFileTable's monotonic generation counter rules
// out.
func (fs *FS) nextUID() uint32 {
	return addMod31(fs.generation, int64(fs.fileCount)+1)
}

// Resize implements §4.7's resize: change a file's logical size and/or
// record size in place. The file's sector allocation does not move, so
// the new layout must still fit the sectors already assigned to it; this
// mirrors the no-relocation write pattern the rest of the package uses
// (never copy data sectors around to satisfy a metadata change). Existing
// records do not survive a resize, since changing recordsz invalidates
// the existing ring's slot boundaries; the ring is erased and the file
// starts empty again.
func (fs *FS) Resize(id uint32, filesz, recordsz uint32) error {
	release, err := fs.acquire()
	if err != nil {
		return err
	}
	defer release()

	node := fs.cache.find(id)
	if node == nil {
		return ErrNotFound
	}
	if recordsz == 0 || recordsz > filesz {
		return fmt.Errorf("%w: recordsz/filesz out of range", ErrInvalid)
	}

	idx, fh, err := fs.findFileHeader(node.file.header.nameString())
	if err != nil {
		return err
	}

	stride := recordStride(recordsz)
	if stride == 0 || (fh.SectorCnt*fs.region.SectorSZ)/stride < filesz/recordsz {
		return fmt.Errorf("%w: new record size does not fit the file's allocated sectors", ErrNoSpace)
	}

	for s := fh.Sector; s < fh.Sector+fh.SectorCnt; s++ {
		if err := fs.dev.EraseSector(fs.dataBase + s*fs.region.SectorSZ); err != nil {
			return fmt.Errorf("%w: erase resized file's sectors: %v", ErrIOError, err)
		}
	}

	fh.FileSZ = filesz
	fh.RecordSZ = recordsz
	fh.FirstID = 0
	fh.UID = fs.nextUID()
	if err := fs.updateFileTable(idx, &fh); err != nil {
		return err
	}

	node.file.header = fh
	node.file.firstIdx = index{}
	node.file.lastIdx = index{}
	node.file.firstOff = 0
	node.file.lastOff = 0
	node.file.recordCnt = 0

	fs.log.WithField("id", id).Info("resized file")
	return nil
}
