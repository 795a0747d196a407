package meterfs

import (
	"encoding/binary"
	"hash/crc32"
)

// index is the packed {valid:1, no:31} identifier used by both the
// superblock Header and every record Entry. It is packed LSB-first: bit 0
// is the valid flag, bits 1-31 are the sequence number. The NOR erased
// state (all ones) decodes to valid=false, no=0x7FFFFFFF.
type index struct {
	valid bool // false (1) means erased/unwritten; true (0) means programmed
	no    uint32
}

const indexInvalidRaw uint32 = 0xFFFFFFFF

func indexFromRaw(raw uint32) index {
	return index{valid: raw&1 == 0, no: (raw >> 1) & 0x7FFFFFFF}
}

func (ix index) raw() uint32 {
	v := uint32(1)
	if ix.valid {
		v = 0
	}
	return v | ((ix.no & 0x7FFFFFFF) << 1)
}

// addMod31 adds delta to no modulo 2^31, matching the circular id space
// used for monotonic record and header generation numbers.
func addMod31(no uint32, delta int64) uint32 {
	const mod = int64(1) << 31
	v := (int64(no&0x7FFFFFFF) + delta) % mod
	if v < 0 {
		v += mod
	}
	return uint32(v)
}

// circularGreater reports whether a comes after b in the 2^31 circular
// sequence space (ties broken toward false), used to pick the live header
// region (§4.4).
func circularGreater(a, b uint32) bool {
	a &= 0x7FFFFFFF
	b &= 0x7FFFFFFF
	diff := int32(a-b) << 1 >> 1 // sign-extend from 31 bits
	return diff > 0
}

// --- Header (one grain) ---

// headerEncodedSize is the encoded, on-flash size of a Header; the remainder of
// the HGRAIN slot is left at its erased value.
const headerEncodedSize = 4 + 4 + 4 + magicLen + 1

// Header is the filesystem superblock grain (§3).
type Header struct {
	ID       index
	FileCnt  uint32
	Checksum uint32
	Magic    [magicLen]byte
	Version  uint8
}

func decodeHeader(b []byte) Header {
	var h Header
	h.ID = indexFromRaw(binary.LittleEndian.Uint32(b[0:4]))
	h.FileCnt = binary.LittleEndian.Uint32(b[4:8])
	h.Checksum = binary.LittleEndian.Uint32(b[8:12])
	copy(h.Magic[:], b[12:12+magicLen])
	h.Version = b[12+magicLen]
	return h
}

func (h Header) encode() []byte {
	b := make([]byte, HGRAIN)
	binary.LittleEndian.PutUint32(b[0:4], h.ID.raw())
	binary.LittleEndian.PutUint32(b[4:8], h.FileCnt)
	binary.LittleEndian.PutUint32(b[8:12], h.Checksum)
	copy(b[12:12+magicLen], h.Magic[:])
	b[12+magicLen] = h.Version
	for i := headerEncodedSize; i < HGRAIN; i++ {
		b[i] = 0xFF
	}
	return b
}

// checksumOf computes the header's CRC over every field except Checksum
// itself (id, filecnt, magic, version).
func (h Header) checksumOf() uint32 {
	b := make([]byte, 0, headerEncodedSize-4)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], h.ID.raw())
	b = append(b, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], h.FileCnt)
	b = append(b, tmp[:]...)
	b = append(b, h.Magic[:]...)
	b = append(b, h.Version)
	return crc32.ChecksumIEEE(b)
}

// valid reports whether this header grain decodes to a live, intact
// superblock header (§4.3): the valid bit set, the magic matching, and the
// checksum verifying.
func (h Header) valid() bool {
	return h.ID.valid && h.Magic == magic && h.Checksum == h.checksumOf()
}

func newHeader(no uint32, filecnt uint32) Header {
	h := Header{
		ID:      index{valid: true, no: no},
		FileCnt: filecnt,
		Magic:   magic,
		Version: FormatVersion,
	}
	h.Checksum = h.checksumOf()
	return h
}

// --- FileHeader (one grain) ---

const fileHeaderEncodedSize = 4 + 4 + 4 + 8 + 4 + 4 + 4

// FileHeader describes one file's placement and geometry (§3).
type FileHeader struct {
	Sector    uint32
	FileSZ    uint32
	RecordSZ  uint32
	Name      [8]byte
	UID       uint32
	FirstID   uint32
	SectorCnt uint32 // 17 bits
	Ncrypt    bool
}

func decodeFileHeader(b []byte) FileHeader {
	var f FileHeader
	f.Sector = binary.LittleEndian.Uint32(b[0:4])
	f.FileSZ = binary.LittleEndian.Uint32(b[4:8])
	f.RecordSZ = binary.LittleEndian.Uint32(b[8:12])
	copy(f.Name[:], b[12:20])
	f.UID = binary.LittleEndian.Uint32(b[20:24])
	f.FirstID = binary.LittleEndian.Uint32(b[24:28])
	packed := binary.LittleEndian.Uint32(b[28:32])
	f.SectorCnt = packed & 0x1FFFF
	f.Ncrypt = (packed>>17)&1 != 0
	return f
}

func (f FileHeader) encode() []byte {
	b := make([]byte, HGRAIN)
	binary.LittleEndian.PutUint32(b[0:4], f.Sector)
	binary.LittleEndian.PutUint32(b[4:8], f.FileSZ)
	binary.LittleEndian.PutUint32(b[8:12], f.RecordSZ)
	copy(b[12:20], f.Name[:])
	binary.LittleEndian.PutUint32(b[20:24], f.UID)
	binary.LittleEndian.PutUint32(b[24:28], f.FirstID)
	packed := f.SectorCnt & 0x1FFFF
	if f.Ncrypt {
		packed |= 1 << 17
	}
	binary.LittleEndian.PutUint32(b[28:32], packed)
	return b
}

// valid reports whether a file header satisfies §4.3's structural checks.
// It does not (and cannot, on its own) verify that its containing header
// region is valid; callers check that separately.
func (f FileHeader) valid() bool {
	return f.RecordSZ > 0 && f.RecordSZ <= f.FileSZ && f.SectorCnt >= 2
}

func nameOf(name string) [8]byte {
	var b [8]byte
	copy(b[:], name)
	return b
}

func (f FileHeader) nameString() string {
	n := 0
	for n < len(f.Name) && f.Name[n] != 0 {
		n++
	}
	return string(f.Name[:n])
}

// --- Entry (header portion; payload follows immediately) ---

// entryHeaderSize is sizeof(Entry) from spec §3/§4.6: the id and checksum
// fields only, not the variable-length payload.
const entryHeaderSize = 4 + 4

type entryHeader struct {
	ID       index
	Checksum uint32
}

func decodeEntryHeader(b []byte) entryHeader {
	return entryHeader{
		ID:       indexFromRaw(binary.LittleEndian.Uint32(b[0:4])),
		Checksum: binary.LittleEndian.Uint32(b[4:8]),
	}
}

func (e entryHeader) encode() []byte {
	b := make([]byte, entryHeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], e.ID.raw())
	binary.LittleEndian.PutUint32(b[4:8], e.Checksum)
	return b
}

// plainChecksum is the unencrypted-record payload CRC (§4.3); encrypted
// records instead use the keyed MAC computed by cryptoHelper.
func plainChecksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// recordStride is the on-flash span of one record slot: header + payload.
func recordStride(recordsz uint32) uint32 {
	return entryHeaderSize + recordsz
}
