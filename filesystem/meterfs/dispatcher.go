package meterfs

import (
	"fmt"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// FileInfo is the caller-facing snapshot returned by Info (§4.7, §6): a
// copy of a file's on-disk geometry plus its currently scanned record
// count, safe to hold onto after the call returns.
type FileInfo struct {
	Name      string
	Sector    uint32
	FileSZ    uint32
	RecordSZ  uint32
	SectorCnt uint32
	Ncrypt    bool
	RecordCnt uint32

	// EarlyErased reports whether the sector ahead of the newest record has
	// already been pre-erased, i.e. a crash right now would still leave
	// that newest record intact on remount (see §3, §8).
	EarlyErased bool
}

// FSInfo is the whole-filesystem summary returned by FSInfo.
type FSInfo struct {
	SectorSZ     uint32
	TotalSectors uint32
	FreeSectors  uint32
	FileCount    int
	MaxFileCount int
	Generation   uint32
}

// opLog returns a per-call structured logger tagged with a correlation id,
// in the teacher's style of threading a request-scoped *logrus.Entry
// rather than the package logger directly.
func (fs *FS) opLog(op string) *logrus.Entry {
	return fs.log.WithField("op", op).WithField("call_id", uuid.NewV4().String())
}

// Lookup implements §4.9's lookup: resolve a file name to a descriptor id
// without incrementing its reference count, scanning the file's ring the
// first time it is seen.
func (fs *FS) Lookup(name string) (uint32, error) {
	log := fs.opLog("lookup")
	release, err := fs.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	if n := fs.cache.findByName(name); n != nil {
		return n.id, nil
	}

	_, fh, err := fs.findFileHeader(name)
	if err != nil {
		log.WithField("name", name).Debug("lookup: not found")
		return 0, err
	}

	of := &openFile{header: fh}
	if err := fs.scanFilePosition(of); err != nil {
		return 0, err
	}

	id, ok := fs.cache.allocateID()
	if !ok {
		return 0, fmt.Errorf("%w: descriptor id space exhausted", ErrNoSpace)
	}
	node := fs.cache.insert(id, of)
	node.refs = 0 // lookup alone does not pin the descriptor open

	return id, nil
}

// Open implements §4.9's open: like Lookup, but increments the
// descriptor's reference count so Close is required before it can be
// evicted from the cache.
func (fs *FS) Open(name string) (uint32, error) {
	release, err := fs.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	if n := fs.cache.findByName(name); n != nil {
		n.refs++
		return n.id, nil
	}

	_, fh, err := fs.findFileHeader(name)
	if err != nil {
		return 0, err
	}

	of := &openFile{header: fh}
	if err := fs.scanFilePosition(of); err != nil {
		return 0, err
	}

	id, ok := fs.cache.allocateID()
	if !ok {
		return 0, fmt.Errorf("%w: descriptor id space exhausted", ErrNoSpace)
	}
	fs.cache.insert(id, of)
	return id, nil
}

// Close implements §4.9's close: drop one reference, evicting the
// descriptor from the cache once none remain.
func (fs *FS) Close(id uint32) error {
	release, err := fs.acquire()
	if err != nil {
		return err
	}
	defer release()
	return fs.cache.release(id)
}

// Read implements §4.6/§4.9's read for an already-open descriptor.
func (fs *FS) Read(id uint32, offset uint32, buf []byte) (int, error) {
	release, err := fs.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	node := fs.cache.find(id)
	if node == nil {
		return 0, ErrNotFound
	}
	return fs.readFile(node.file, offset, buf)
}

// Write implements §4.6/§4.9's write for an already-open descriptor: it
// always appends exactly one record and takes no offset (the ring has no
// concept of writing at an arbitrary position).
func (fs *FS) Write(id uint32, buf []byte) (int, error) {
	release, err := fs.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	node := fs.cache.find(id)
	if node == nil {
		return 0, ErrNotFound
	}
	return fs.writeFile(node.file, buf)
}

// Info implements §4.9's info: the descriptor's current geometry and
// scanned record count.
func (fs *FS) Info(id uint32) (FileInfo, error) {
	release, err := fs.acquire()
	if err != nil {
		return FileInfo{}, err
	}
	defer release()

	node := fs.cache.find(id)
	if node == nil {
		return FileInfo{}, ErrNotFound
	}
	fh := node.file.header
	return FileInfo{
		Name:      fh.nameString(),
		Sector:    fh.Sector,
		FileSZ:    fh.FileSZ,
		RecordSZ:  fh.RecordSZ,
		SectorCnt: fh.SectorCnt,
		Ncrypt:    fh.Ncrypt,
		RecordCnt: node.file.recordCnt,

		EarlyErased: node.file.earlyErased,
	}, nil
}

// FSInfo implements §4.9's fsinfo: a whole-filesystem summary, including
// free sector count computed from the live file table.
func (fs *FS) FSInfo() (FSInfo, error) {
	release, err := fs.acquire()
	if err != nil {
		return FSInfo{}, err
	}
	defer release()

	total := fs.totalDataSectors()
	bs, err := fs.usedSectors()
	if err != nil {
		return FSInfo{}, err
	}
	free := total - uint32(bs.Count())

	return FSInfo{
		SectorSZ:     fs.region.SectorSZ,
		TotalSectors: total,
		FreeSectors:  free,
		FileCount:    fs.fileCount,
		MaxFileCount: fs.maxFileCnt,
		Generation:   fs.generation,
	}, nil
}

// ChipErase implements §4.9's chiperase: erase the entire region and
// reformat it as a fresh, empty filesystem, dropping every open
// descriptor regardless of reference count.
func (fs *FS) ChipErase() error {
	release, err := fs.acquire()
	if err != nil {
		return err
	}
	defer release()

	fs.log.Warn("chip erase requested")

	total := fs.totalDataSectors()
	for s := uint32(0); s < total; s++ {
		if err := fs.dev.EraseSector(fs.dataBase + s*fs.region.SectorSZ); err != nil {
			return fmt.Errorf("%w: erase data sector %d: %v", ErrIOError, s, err)
		}
	}

	if err := fs.format(0, fs.headerSize); err != nil {
		return err
	}
	fs.cache.removeAll()
	return nil
}
