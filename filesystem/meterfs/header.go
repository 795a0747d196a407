package meterfs

import "fmt"

// regionHeader reads the grain at the start of a header region.
func (fs *FS) regionHeader(base uint32) (Header, error) {
	buf := make([]byte, HGRAIN)
	if _, err := fs.dev.Read(fs.region.Offset+base, buf); err != nil {
		return Header{}, fmt.Errorf("%w: read header at %d: %v", ErrIOError, base, err)
	}
	return decodeHeader(buf), nil
}

// fileHeaderAt reads file header grain i (0-based) of the region at base.
func (fs *FS) fileHeaderAt(base uint32, i int) (FileHeader, error) {
	buf := make([]byte, HGRAIN)
	off := base + HGRAIN + uint32(i)*HGRAIN
	if _, err := fs.dev.Read(fs.region.Offset+off, buf); err != nil {
		return FileHeader{}, fmt.Errorf("%w: read file header %d: %v", ErrIOError, i, err)
	}
	return decodeFileHeader(buf), nil
}

func (fs *FS) writeGrain(base uint32, b []byte) error {
	if _, err := fs.dev.Write(fs.region.Offset+base, b); err != nil {
		return fmt.Errorf("%w: write grain at %d: %v", ErrIOError, base, err)
	}
	return nil
}

// eraseHeaderRegion erases every sector the header region at base spans.
func (fs *FS) eraseHeaderRegion(base uint32) error {
	sectors := (fs.headerSize + fs.region.SectorSZ - 1) / fs.region.SectorSZ
	for i := uint32(0); i < sectors; i++ {
		if err := fs.dev.EraseSector(fs.region.Offset + base + i*fs.region.SectorSZ); err != nil {
			return fmt.Errorf("%w: erase header region at %d: %v", ErrIOError, base, err)
		}
	}
	return nil
}

// mountHeaders implements §4.4's Mount procedure: read both regions,
// format if neither is valid, pick the live one if both are, or repair the
// invalid one in place if exactly one is valid.
func (fs *FS) mountHeaders() error {
	region0 := uint32(0)
	region1 := fs.headerSize

	h0, err := fs.regionHeader(region0)
	if err != nil {
		return err
	}
	h1, err := fs.regionHeader(region1)
	if err != nil {
		return err
	}

	v0, v1 := h0.valid(), h1.valid()

	switch {
	case !v0 && !v1:
		fs.log.Info("no valid filesystem header found, formatting")
		return fs.format(region0, region1)

	case v0 && v1:
		if circularGreater(h1.ID.no, h0.ID.no) {
			fs.liveBase, fs.spareBase = region1, region0
			fs.generation, fs.fileCount = h1.ID.no, int(h1.FileCnt)
		} else {
			fs.liveBase, fs.spareBase = region0, region1
			fs.generation, fs.fileCount = h0.ID.no, int(h0.FileCnt)
		}
		return nil

	case v0 && !v1:
		fs.log.WithField("region", 1).Warn("header region is damaged, repairing")
		return fs.repair(region0, h0, region1)

	default: // v1 && !v0
		fs.log.WithField("region", 0).Warn("header region is damaged, repairing")
		return fs.repair(region1, h1, region0)
	}
}

// format erases both header regions and writes a fresh, empty header to
// region0, making it live.
func (fs *FS) format(region0, region1 uint32) error {
	if err := fs.eraseHeaderRegion(region0); err != nil {
		return err
	}
	if err := fs.eraseHeaderRegion(region1); err != nil {
		return err
	}
	h := newHeader(0, 0)
	if err := fs.writeGrain(region0, h.encode()); err != nil {
		return err
	}
	fs.liveBase, fs.spareBase = region0, region1
	fs.generation, fs.fileCount = 0, 0
	return nil
}

// repair copies the valid region's contents into the invalid one. Live
// stays the originally-valid region throughout, so a crash mid-repair
// simply leaves the spare still invalid - re-mount repairs it again.
func (fs *FS) repair(validBase uint32, valid Header, damagedBase uint32) error {
	if err := fs.eraseHeaderRegion(damagedBase); err != nil {
		return err
	}

	if err := fs.writeGrain(damagedBase, valid.encode()); err != nil {
		return err
	}

	for i := 0; i < int(valid.FileCnt); i++ {
		fh, err := fs.fileHeaderAt(validBase, i)
		if err != nil {
			return err
		}
		if err := fs.writeGrain(damagedBase+HGRAIN+uint32(i)*HGRAIN, fh.encode()); err != nil {
			return err
		}
	}

	fs.liveBase, fs.spareBase = validBase, damagedBase
	fs.generation, fs.fileCount = valid.ID.no, int(valid.FileCnt)
	return nil
}

// updateFileTable performs the atomic header update of §4.4: erase the
// spare, copy every current file header across (substituting the one at
// replaceIdx if >= 0, or appending a new one if replaceIdx < 0), then
// program a new Header grain into the spare with a bumped generation. The
// spare becomes live only once that final grain write succeeds.
func (fs *FS) updateFileTable(replaceIdx int, replacement *FileHeader) error {
	if err := fs.eraseHeaderRegion(fs.spareBase); err != nil {
		return err
	}

	newCount := fs.fileCount
	for i := 0; i < fs.fileCount; i++ {
		var fh FileHeader
		if i == replaceIdx {
			fh = *replacement
		} else {
			var err error
			fh, err = fs.fileHeaderAt(fs.liveBase, i)
			if err != nil {
				return err
			}
		}
		if err := fs.writeGrain(fs.spareBase+HGRAIN+uint32(i)*HGRAIN, fh.encode()); err != nil {
			return err
		}
	}

	if replaceIdx < 0 {
		if err := fs.writeGrain(fs.spareBase+HGRAIN+uint32(fs.fileCount)*HGRAIN, replacement.encode()); err != nil {
			return err
		}
		newCount = fs.fileCount + 1
	}

	h := newHeader(addMod31(fs.generation, 1), uint32(newCount))
	if err := fs.writeGrain(fs.spareBase, h.encode()); err != nil {
		return err
	}

	fs.liveBase, fs.spareBase = fs.spareBase, fs.liveBase
	fs.generation = h.ID.no
	fs.fileCount = newCount
	return nil
}

// findFileHeader scans the live region's file table for name, returning
// its index and header, or ErrNotFound.
func (fs *FS) findFileHeader(name string) (int, FileHeader, error) {
	for i := 0; i < fs.fileCount; i++ {
		fh, err := fs.fileHeaderAt(fs.liveBase, i)
		if err != nil {
			return 0, FileHeader{}, err
		}
		if fh.nameString() == name {
			return i, fh, nil
		}
	}
	return -1, FileHeader{}, ErrNotFound
}
