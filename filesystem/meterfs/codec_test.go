package meterfs

import (
	"testing"

	"github.com/go-test/deep"
)

func TestIndexRoundTrip(t *testing.T) {
	cases := []index{
		{valid: true, no: 0},
		{valid: true, no: 12345},
		{valid: true, no: 0x7FFFFFFF},
		{valid: false, no: 0x7FFFFFFF},
	}
	for _, c := range cases {
		got := indexFromRaw(c.raw())
		if got != c {
			t.Fatalf("index round trip: want %+v, got %+v", c, got)
		}
	}
}

func TestIndexErasedState(t *testing.T) {
	got := indexFromRaw(0xFFFFFFFF)
	if got.valid || got.no != 0x7FFFFFFF {
		t.Fatalf("erased raw should decode to invalid/max, got %+v", got)
	}
}

func TestAddMod31Wraps(t *testing.T) {
	if got := addMod31(0x7FFFFFFF, 1); got != 0 {
		t.Fatalf("addMod31 should wrap at 2^31, got %d", got)
	}
	if got := addMod31(0, -1); got != 0x7FFFFFFF {
		t.Fatalf("addMod31 should wrap backward, got %d", got)
	}
}

func TestCircularGreater(t *testing.T) {
	if !circularGreater(5, 3) {
		t.Fatalf("5 should be greater than 3")
	}
	if circularGreater(3, 5) {
		t.Fatalf("3 should not be greater than 5")
	}
	// Near the wraparound point, a small number is "greater" than a huge one.
	if !circularGreater(1, 0x7FFFFFFE) {
		t.Fatalf("1 should be circularly greater than near-max")
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := newHeader(7, 3)
	decoded := decodeHeader(h.encode())
	if diff := deep.Equal(h, decoded); diff != nil {
		t.Fatalf("header round trip mismatch: %v", diff)
	}
	if !decoded.valid() {
		t.Fatalf("freshly-built header should be valid")
	}
}

func TestHeaderChecksumDetectsCorruption(t *testing.T) {
	h := newHeader(1, 1)
	b := h.encode()
	b[0] ^= 0x02 // flip a sequence-number bit inside the id field, leaving the valid flag set
	decoded := decodeHeader(b)
	if decoded.valid() {
		t.Fatalf("corrupted header should not validate")
	}
}

func TestFileHeaderRoundTrip(t *testing.T) {
	fh := FileHeader{
		Sector:    4,
		FileSZ:    1024,
		RecordSZ:  32,
		Name:      nameOf("temp"),
		UID:       99,
		FirstID:   5,
		SectorCnt: 3,
		Ncrypt:    true,
	}
	decoded := decodeFileHeader(fh.encode())
	if diff := deep.Equal(fh, decoded); diff != nil {
		t.Fatalf("file header round trip mismatch: %v", diff)
	}
	if decoded.nameString() != "temp" {
		t.Fatalf("name mismatch: %q", decoded.nameString())
	}
}

func TestFileHeaderValid(t *testing.T) {
	ok := FileHeader{RecordSZ: 4, FileSZ: 8, SectorCnt: 2}
	if !ok.valid() {
		t.Fatalf("expected valid file header")
	}
	bad := FileHeader{RecordSZ: 0, FileSZ: 8, SectorCnt: 2}
	if bad.valid() {
		t.Fatalf("zero record size should be invalid")
	}
}

func TestEntryHeaderRoundTrip(t *testing.T) {
	e := entryHeader{ID: index{valid: true, no: 42}, Checksum: 0xDEADBEEF}
	decoded := decodeEntryHeader(e.encode())
	if diff := deep.Equal(e, decoded); diff != nil {
		t.Fatalf("entry header round trip mismatch: %v", diff)
	}
}
