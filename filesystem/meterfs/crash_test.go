package meterfs

import (
	"testing"

	"github.com/phx-systems/go-meterfs/blockdev"
)

// TestCrashDuringProgram exercises spec §8's "crash-during-program"
// property: a failure after the payload write but before the entry-header
// write must leave lastidx/lastoff unchanged on remount. The sector size
// here (64) is picked so the third record straddles the ring's sector
// boundary, which is exactly when appendRecord pre-erases ahead of the
// write it is about to perform.
func TestCrashDuringProgram(t *testing.T) {
	const sectorsz = 64
	// 2 sectors for the dual header regions, 2 more for the file's own ring.
	dev := newMemDevice(4*sectorsz, sectorsz)
	fs, err := Mount(dev, Params{Region: blockdev.Region{Size: 4 * sectorsz, SectorSZ: sectorsz}})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}

	id, err := fs.Allocate("f", 2, 64, 16, false)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	rec0 := []byte("0000000000000000")
	rec1 := []byte("1111111111111111")
	if _, err := fs.Write(id, rec0); err != nil {
		t.Fatalf("write rec0: %v", err)
	}
	if _, err := fs.Write(id, rec1); err != nil {
		t.Fatalf("write rec1: %v", err)
	}

	node := fs.cache.find(id)
	if node == nil {
		t.Fatalf("descriptor vanished")
	}
	preCrashLastIdx := node.file.lastIdx
	preCrashLastOff := node.file.lastOff

	// The third record straddles sector0/sector1: appendRecord pre-erases
	// sector1 before writing. Let that erase and the payload write go
	// through, then fail the entry-header write.
	fs.dev = &faultyDevice{sectorDevice: dev, failAfter: 1}
	rec2 := []byte("2222222222222222")
	if _, err := fs.Write(id, rec2); err == nil {
		t.Fatalf("expected the simulated power loss to fail the write")
	}
	fs.dev = dev

	if !node.file.earlyErased {
		t.Fatalf("expected earlyErased to record that the straddled-into sector was pre-erased")
	}
	if node.file.lastIdx != preCrashLastIdx || node.file.lastOff != preCrashLastOff {
		t.Fatalf("in-memory lastidx/lastoff should not advance on a failed append")
	}

	// Remount fresh off the same backing device: the scanner must still
	// find rec1 as the newest record, since rec2's entry header never made
	// it past the erased (invalid) state.
	fs2, err := Mount(dev, Params{Region: fs.region})
	if err != nil {
		t.Fatalf("remount: %v", err)
	}
	id2, err := fs2.Lookup("f")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	info, err := fs2.Info(id2)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.RecordCnt != 2 {
		t.Fatalf("expected 2 surviving records after the crash, got %d", info.RecordCnt)
	}

	buf := make([]byte, 16)
	if _, err := fs2.Read(id2, 16, buf); err != nil {
		t.Fatalf("read rec1: %v", err)
	}
	if string(buf) != string(rec1) {
		t.Fatalf("expected newest surviving record to still be rec1, got %q", buf)
	}
}

// TestCrashDuringHeaderSwitch exercises spec §8's "crash-during-header-
// switch" property for the final grain write of updateFileTable - the one
// that actually flips which region is live. A failure there must leave the
// previously-live region as the sole valid one, and a remount must recover
// the pre-update state exactly.
func TestCrashDuringHeaderSwitch(t *testing.T) {
	fs, dev := newTestFS(t, 8)

	fs.dev = &faultyDevice{sectorDevice: dev, failAfter: 1}
	if _, err := fs.Allocate("f", 2, 32, 16, false); err == nil {
		t.Fatalf("expected the simulated power loss to fail the allocate")
	}
	fs.dev = dev

	fs2, err := Mount(dev, Params{Region: fs.region})
	if err != nil {
		t.Fatalf("remount after a failed header switch: %v", err)
	}
	if fs2.fileCount != 0 {
		t.Fatalf("expected the file table to still be empty, got fileCount=%d", fs2.fileCount)
	}
	if fs2.generation != 0 {
		t.Fatalf("expected generation to still be 0 after the failed switch, got %d", fs2.generation)
	}
	if _, _, err := fs2.findFileHeader("f"); err != ErrNotFound {
		t.Fatalf("expected the half-allocated file to not exist, got %v", err)
	}
}

// TestCrashDuringHeaderSwitchMidCopy fails a write partway through copying
// the existing file table into the spare region, before the switch grain
// is even reached. The spare never reaches a valid state, so a remount
// must still repair from the untouched live region.
func TestCrashDuringHeaderSwitchMidCopy(t *testing.T) {
	fs, dev := newTestFS(t, 8)
	if _, err := fs.Allocate("a", 2, 32, 16, false); err != nil {
		t.Fatalf("allocate a: %v", err)
	}

	fs.dev = &faultyDevice{sectorDevice: dev, failAfter: 0}
	if _, err := fs.Allocate("b", 2, 32, 16, false); err == nil {
		t.Fatalf("expected the simulated power loss to fail the allocate")
	}
	fs.dev = dev

	fs2, err := Mount(dev, Params{Region: fs.region})
	if err != nil {
		t.Fatalf("remount after a failed mid-copy switch: %v", err)
	}
	if fs2.fileCount != 1 {
		t.Fatalf("expected only the original file to survive, got fileCount=%d", fs2.fileCount)
	}
	if _, _, err := fs2.findFileHeader("a"); err != nil {
		t.Fatalf("expected file a to still be found: %v", err)
	}
	if _, _, err := fs2.findFileHeader("b"); err != ErrNotFound {
		t.Fatalf("expected file b to not exist, got %v", err)
	}
}
