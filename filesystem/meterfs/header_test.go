package meterfs

import (
	"testing"

	"github.com/phx-systems/go-meterfs/blockdev"
)

const testSectorSZ = 128

func newTestFS(t *testing.T, sectors uint32) (*FS, *memDevice) {
	t.Helper()
	dev := newMemDevice(sectors*testSectorSZ, testSectorSZ)
	fs, err := Mount(dev, Params{Region: blockdev.Region{Size: sectors * testSectorSZ, SectorSZ: testSectorSZ}})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}
	return fs, dev
}

func TestMountFormatsFreshDevice(t *testing.T) {
	fs, _ := newTestFS(t, 8)
	if fs.fileCount != 0 {
		t.Fatalf("fresh mount should have zero files, got %d", fs.fileCount)
	}
	if fs.generation != 0 {
		t.Fatalf("fresh mount should start at generation 0, got %d", fs.generation)
	}
}

func TestMountPicksHigherGeneration(t *testing.T) {
	fs, dev := newTestFS(t, 8)
	if _, err := fs.Allocate("a", 2, 64, 16, false); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	fs2, err := Mount(dev, Params{Region: fs.region})
	if err != nil {
		t.Fatalf("remount: %v", err)
	}
	if fs2.fileCount != 1 {
		t.Fatalf("remount should see the allocated file, got fileCount=%d", fs2.fileCount)
	}
	if fs2.generation != fs.generation {
		t.Fatalf("remount generation mismatch: want %d got %d", fs.generation, fs2.generation)
	}
}

func TestMountRepairsDamagedRegion(t *testing.T) {
	fs, dev := newTestFS(t, 8)
	if _, err := fs.Allocate("a", 2, 64, 16, false); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	// Corrupt the spare region directly (simulating a chip that was never
	// cleanly written there, or lost power mid-format).
	if err := dev.EraseSector(fs.region.Offset + fs.spareBase); err != nil {
		t.Fatalf("erase spare: %v", err)
	}

	fs2, err := Mount(dev, Params{Region: fs.region})
	if err != nil {
		t.Fatalf("remount after damaging spare: %v", err)
	}
	if fs2.fileCount != 1 {
		t.Fatalf("remount after repair should still see the file, got fileCount=%d", fs2.fileCount)
	}
}

func TestFindFileHeaderNotFound(t *testing.T) {
	fs, _ := newTestFS(t, 8)
	if _, _, err := fs.findFileHeader("nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
