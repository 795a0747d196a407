package meterfs

import "fmt"

// appendRecord implements §4.6's write_record: program the payload first,
// then the entry header, so that a crash between the two leaves the slot
// looking erased and the previous newest record still newest on recovery.
func (fs *FS) appendRecord(f *openFile, buf []byte) error {
	recordsz := f.header.RecordSZ
	if uint32(len(buf)) > recordsz {
		buf = buf[:recordsz]
	}

	sectorsz := fs.region.SectorSZ
	stride := recordStride(recordsz)
	ringBytes := f.header.SectorCnt * sectorsz
	baseAddr := fs.dataBase + f.header.Sector*sectorsz

	offset := f.lastOff
	if f.lastIdx.valid {
		offset += stride
	}
	if offset+stride > ringBytes {
		offset = 0
	}

	end := offset + stride
	needErase := offset == 0 || offset/sectorsz != end/sectorsz
	if needErase {
		if err := fs.dev.EraseSector(baseAddr + (end/sectorsz)*sectorsz); err != nil {
			return fmt.Errorf("%w: erase ring sector: %v", ErrIOError, err)
		}
	}
	// earlyErased becomes true the moment the sector this record's tail (or
	// the next record's head, on a straddle) will land in has been cleared.
	// From here until the entry header write below lands, a crash leaves
	// the erase done but the program incomplete; the slot it touched still
	// reads back as erased (invalid), so lastidx/lastoff on remount still
	// point at the previous record, not this one.
	f.earlyErased = needErase

	nextNo := addMod31(f.lastIdx.no, 1)
	payload := make([]byte, recordsz)
	copy(payload, buf)

	var checksum uint32
	if f.header.Ncrypt {
		if fs.crypto == nil {
			return fmt.Errorf("%w: file requires encryption but no key was supplied at mount", ErrInvalid)
		}
		e := entryHeader{ID: index{valid: true, no: nextNo}}
		var encErr error
		payload, checksum, encErr = fs.crypto.encrypt(payload, f.header, e)
		if encErr != nil {
			return encErr
		}
	} else {
		checksum = plainChecksum(payload)
	}

	if _, err := fs.dev.Write(baseAddr+offset+entryHeaderSize, payload); err != nil {
		return fmt.Errorf("%w: write record payload: %v", ErrIOError, err)
	}

	eh := entryHeader{ID: index{valid: true, no: nextNo}, Checksum: checksum}
	if _, err := fs.dev.Write(baseAddr+offset, eh.encode()); err != nil {
		return fmt.Errorf("%w: write record header: %v", ErrIOError, err)
	}

	wasValid := f.lastIdx.valid
	f.lastIdx = index{valid: true, no: nextNo}
	f.lastOff = offset

	if f.recordCnt < f.capacity() {
		f.recordCnt++
		if !wasValid {
			f.firstIdx, f.firstOff = f.lastIdx, f.lastOff
		}
	} else {
		f.firstIdx.no = addMod31(f.firstIdx.no, 1)
		f.firstOff += stride
		if f.firstOff+stride > ringBytes {
			f.firstOff = 0
		}
	}

	return nil
}

// readRecord implements §4.6's read_record: translate logical index idx
// into a physical slot relative to firstOff, verify the entry header, then
// copy len bytes of payload starting at offs within the record.
func (fs *FS) readRecord(f *openFile, idx uint32, offs uint32, buf []byte) (int, error) {
	if f.empty() || idx >= f.recordCnt {
		return 0, ErrNotFound
	}

	sectorsz := fs.region.SectorSZ
	recordsz := f.header.RecordSZ
	stride := recordStride(recordsz)
	totalSlots := f.totalSlots(sectorsz)
	baseAddr := fs.dataBase + f.header.Sector*sectorsz

	slot := (int64(f.firstOff/stride) + int64(idx)) % int64(totalSlots)
	offset := uint32(slot) * stride

	raw := make([]byte, stride)
	if _, err := fs.dev.Read(baseAddr+offset, raw); err != nil {
		return 0, fmt.Errorf("%w: read record: %v", ErrIOError, err)
	}

	eh := decodeEntryHeader(raw[:entryHeaderSize])
	wantNo := addMod31(f.firstIdx.no, int64(idx))
	if !eh.ID.valid || eh.ID.no != wantNo {
		return 0, ErrNotFound
	}

	payload := raw[entryHeaderSize:]

	if f.header.Ncrypt {
		if fs.crypto == nil {
			return 0, fmt.Errorf("%w: file requires encryption but no key was supplied at mount", ErrInvalid)
		}
		var err error
		payload, err = fs.crypto.decrypt(payload, eh.Checksum, f.header, eh)
		if err != nil {
			return 0, err
		}
	} else if eh.Checksum != plainChecksum(payload) {
		return 0, ErrCorruptRecord
	}

	if offs >= recordsz {
		return 0, nil
	}
	n := copy(buf, payload[offs:])
	return n, nil
}

// readFile implements the read(id, offset_bytes, buf) API of §4.6: split
// the byte offset into a record index and intra-record skip, then loop
// over records until buf is filled or a record is missing.
func (fs *FS) readFile(f *openFile, offsetBytes uint32, buf []byte) (int, error) {
	if f.header.FileSZ == 0 || f.header.RecordSZ == 0 {
		return 0, nil
	}

	idx := offsetBytes / f.header.RecordSZ
	skip := offsetBytes % f.header.RecordSZ

	total := 0
	for total < len(buf) {
		chunk := len(buf) - total
		if uint32(chunk) > f.header.RecordSZ-skip {
			chunk = int(f.header.RecordSZ - skip)
		}
		n, err := fs.readRecord(f, idx, skip, buf[total:total+chunk])
		if err != nil || n == 0 {
			if total == 0 {
				return 0, err
			}
			break
		}
		total += n
		skip = 0
		idx++
	}
	return total, nil
}

// writeFile implements the write(id, buf) API of §4.6: append exactly one
// record, truncating buf if it is longer than recordsz.
func (fs *FS) writeFile(f *openFile, buf []byte) (int, error) {
	if f.header.FileSZ == 0 || f.header.RecordSZ == 0 {
		return 0, nil
	}
	if err := fs.appendRecord(f, buf); err != nil {
		return 0, err
	}
	n := len(buf)
	if uint32(n) > f.header.RecordSZ {
		n = int(f.header.RecordSZ)
	}
	return n, nil
}
