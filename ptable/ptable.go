// Package ptable reads and writes the partition table Phoenix-style NOR
// flash images carry in their last sector: a small header, a packed array
// of fixed-size partition records, and a trailing magic. meterfsctl's list
// command uses it to print each partition's name, offset, size and type;
// its dump and restore commands take the region offset and size as flags
// and do not read the table.
package ptable

import (
	"encoding/binary"
	"fmt"
)

// magic trails the partition table, immediately after the last partition
// record.
var magic = [4]byte{0xde, 0xad, 0xfc, 0xbe}

// PartitionType mirrors the MBR-derived type byte in ptable_partition_t.
type PartitionType uint8

const (
	TypeRaw     PartitionType = 0x51
	TypeMeterFS PartitionType = 0x75
)

const (
	headerSize    = 4 + 24 // pCnt + reserved
	partitionSize = 8 + 4 + 4 + 1 + 15
)

// Partition is one entry of the table: a named, typed, sector-aligned
// byte range of the chip.
type Partition struct {
	Name   string
	Offset uint32
	Size   uint32
	Type   PartitionType
}

func decodePartition(b []byte) Partition {
	var p Partition
	n := 0
	for n < 8 && b[n] != 0 {
		n++
	}
	p.Name = string(b[:n])
	p.Offset = binary.LittleEndian.Uint32(b[8:12])
	p.Size = binary.LittleEndian.Uint32(b[12:16])
	p.Type = PartitionType(b[16])
	return p
}

func (p Partition) encode() []byte {
	b := make([]byte, partitionSize)
	copy(b[0:8], p.Name)
	binary.LittleEndian.PutUint32(b[8:12], p.Offset)
	binary.LittleEndian.PutUint32(b[12:16], p.Size)
	b[16] = byte(p.Type)
	return b
}

// Table is a decoded partition table.
type Table struct {
	Partitions []Partition
}

// Read decodes a partition table from the last sector of a chip image,
// given the chip's total size and sector size (both must match what the
// table was written with, since the table lives at memSize-sectorSZ and
// its partition count is bounded by what fits in one sector).
func Read(image []byte, memSize, sectorSZ uint32) (Table, error) {
	if uint32(len(image)) < memSize {
		return Table{}, fmt.Errorf("ptable: image shorter than reported chip size")
	}
	tableAddr := memSize - sectorSZ
	sector := image[tableAddr : tableAddr+sectorSZ]

	if len(sector) < headerSize {
		return Table{}, fmt.Errorf("ptable: sector too small for a header")
	}
	pCnt := binary.LittleEndian.Uint32(sector[0:4])

	maxPartCnt := (sectorSZ - headerSize - uint32(len(magic))) / partitionSize
	if pCnt > maxPartCnt {
		return Table{}, fmt.Errorf("ptable: partition count %d exceeds sector capacity %d", pCnt, maxPartCnt)
	}

	partsOff := headerSize
	magicOff := partsOff + int(pCnt)*partitionSize
	if magicOff+len(magic) > len(sector) {
		return Table{}, fmt.Errorf("ptable: partition table truncated")
	}
	var gotMagic [4]byte
	copy(gotMagic[:], sector[magicOff:magicOff+len(magic)])
	if gotMagic != magic {
		return Table{}, fmt.Errorf("ptable: magic mismatch, no partition table present")
	}

	t := Table{Partitions: make([]Partition, pCnt)}
	for i := uint32(0); i < pCnt; i++ {
		off := partsOff + int(i)*partitionSize
		t.Partitions[i] = decodePartition(sector[off : off+partitionSize])
	}

	for i := range t.Partitions {
		if err := verify(t.Partitions, i, memSize, sectorSZ); err != nil {
			return Table{}, err
		}
	}

	return t, nil
}

// Write encodes parts into a full sectorSZ-byte sector ready to be
// programmed at memSize-sectorSZ, after validating every partition the
// same way Read does.
func Write(parts []Partition, memSize, sectorSZ uint32) ([]byte, error) {
	for i := range parts {
		if err := verify(parts, i, memSize, sectorSZ); err != nil {
			return nil, err
		}
	}

	sector := make([]byte, sectorSZ)
	for i := range sector {
		sector[i] = 0xFF
	}

	binary.LittleEndian.PutUint32(sector[0:4], uint32(len(parts)))

	off := headerSize
	for _, p := range parts {
		copy(sector[off:off+partitionSize], p.encode())
		off += partitionSize
	}
	copy(sector[off:off+len(magic)], magic[:])

	return sector, nil
}

// verify checks partitions[id] for valid geometry, a recognized type, a
// clean alphanumeric name, and non-overlap with every earlier partition -
// the same checks ptable_verifyPartition makes, in partition-table order.
func verify(partitions []Partition, id int, memSize, sectorSZ uint32) error {
	p := partitions[id]

	if p.Size%sectorSZ != 0 {
		return fmt.Errorf("ptable: partition %q size %d is not sector-aligned", p.Name, p.Size)
	}
	if p.Offset%sectorSZ != 0 {
		return fmt.Errorf("ptable: partition %q offset %d is not sector-aligned", p.Name, p.Offset)
	}
	if p.Size+p.Offset > memSize {
		return fmt.Errorf("ptable: partition %q extends past the end of the chip", p.Name)
	}

	for i := 0; i < id; i++ {
		o := partitions[i]
		if p.Offset == o.Offset {
			return fmt.Errorf("ptable: partitions %q and %q start at the same offset", p.Name, o.Name)
		}
		if p.Offset > o.Offset && p.Offset < o.Offset+o.Size {
			return fmt.Errorf("ptable: partition %q overlaps %q", p.Name, o.Name)
		}
		if p.Offset+p.Size > o.Offset && p.Offset+p.Size < o.Offset+o.Size {
			return fmt.Errorf("ptable: partition %q overlaps %q", p.Name, o.Name)
		}
		if p.Offset <= o.Offset && p.Offset+p.Size >= o.Offset+o.Size {
			return fmt.Errorf("ptable: partition %q encloses %q", p.Name, o.Name)
		}
		if o.Name == p.Name {
			return fmt.Errorf("ptable: duplicate partition name %q", p.Name)
		}
	}

	switch p.Type {
	case TypeRaw, TypeMeterFS:
	default:
		return fmt.Errorf("ptable: partition %q has unrecognized type 0x%02x", p.Name, p.Type)
	}

	if !isCleanName(p.Name) {
		return fmt.Errorf("ptable: partition name %q is not alphanumeric", p.Name)
	}

	return nil
}

func isCleanName(name string) bool {
	for _, r := range name {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return len(name) > 0 && len(name) <= 8
}
