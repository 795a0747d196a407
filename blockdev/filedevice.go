package blockdev

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	uuid "github.com/satori/go.uuid"
	"golang.org/x/sys/unix"
)

// FileDevice is a reference Device backed by a regular host file, standing
// in for real NOR flash during development and testing. Erased bytes read
// back as 0xFF, matching NOR semantics; writes only clear bits.
//
// A sidecar "<path>.meterfs-meta" file records a stable instance UUID so
// that two FileDevice handles opened against the same path in the same
// process (or across processes racing to mount it) can tell whether they
// are looking at the same underlying image.
type FileDevice struct {
	f        *os.File
	size     int64
	instance uuid.UUID
	locked   bool
}

type fileDeviceMeta struct {
	Instance uuid.UUID `json:"instance"`
}

// OpenFileDevice opens (creating if needed) a file of exactly size bytes to
// back a Device, takes an exclusive advisory lock on it for the lifetime of
// the handle, and loads or creates its sidecar instance metadata.
func OpenFileDevice(path string, size int64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: %s is locked by another mount: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: stat %s: %w", path, err)
	}
	if fi.Size() != size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("blockdev: truncate %s to %d: %w", path, size, err)
		}
		if fi.Size() < size {
			if err := fillErased(f, fi.Size(), size); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	inst, err := loadOrCreateMeta(path + ".meterfs-meta")
	if err != nil {
		f.Close()
		return nil, err
	}

	return &FileDevice{f: f, size: size, instance: inst, locked: true}, nil
}

func loadOrCreateMeta(path string) (uuid.UUID, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		var m fileDeviceMeta
		if jsonErr := json.Unmarshal(raw, &m); jsonErr == nil && m.Instance != uuid.Nil {
			return m.Instance, nil
		}
	}

	m := fileDeviceMeta{Instance: uuid.NewV4()}
	raw, err = json.Marshal(m)
	if err != nil {
		return uuid.Nil, fmt.Errorf("blockdev: marshal instance metadata: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return uuid.Nil, fmt.Errorf("blockdev: write instance metadata: %w", err)
	}
	return m.Instance, nil
}

func fillErased(f *os.File, from, to int64) error {
	const chunk = 64 * 1024
	buf := bytes.Repeat([]byte{0xFF}, chunk)
	for off := from; off < to; off += chunk {
		n := chunk
		if off+int64(n) > to {
			n = int(to - off)
		}
		if _, err := f.WriteAt(buf[:n], off); err != nil {
			return fmt.Errorf("blockdev: initialize erased image: %w", err)
		}
	}
	return nil
}

// Instance returns the stable identity of this backing file, for log
// correlation when several harness processes share one image.
func (d *FileDevice) Instance() uuid.UUID {
	return d.instance
}

func (d *FileDevice) Read(offset uint32, buf []byte) (int, error) {
	n, err := d.f.ReadAt(buf, int64(offset))
	if err != nil && n == 0 {
		return 0, &IOErr{Op: "read", Offset: offset, Err: err}
	}
	return n, nil
}

func (d *FileDevice) Write(offset uint32, buf []byte) (int, error) {
	cur := bytes.Repeat([]byte{0xFF}, len(buf))
	if _, err := d.f.ReadAt(cur, int64(offset)); err != nil && err != io.EOF {
		return 0, &IOErr{Op: "write", Offset: offset, Err: err}
	}
	for i := range cur {
		cur[i] &= buf[i]
	}
	n, err := d.f.WriteAt(cur, int64(offset))
	if err != nil {
		return n, &IOErr{Op: "write", Offset: offset, Err: err}
	}
	return n, nil
}

func (d *FileDevice) EraseSector(offset uint32) error {
	// Sector size is not known to FileDevice directly and erase has no
	// length in the contract, so a bare FileDevice cannot erase; it always
	// fails. SectorDevice.EraseSector supplies the sector size.
	return fmt.Errorf("blockdev: EraseSector(offset) requires a sector size; use Region-bound erase")
}

// Power is a no-op for a host file; nothing to power down.
func (d *FileDevice) Power(bool) error { return nil }

// Close releases the advisory lock and closes the backing file.
func (d *FileDevice) Close() error {
	if d.locked {
		_ = unix.Flock(int(d.f.Fd()), unix.LOCK_UN)
		d.locked = false
	}
	return d.f.Close()
}

// SectorDevice wraps a FileDevice with a fixed sector size so EraseSector
// has the length it needs; this is the type actually handed to meterfs.Mount.
type SectorDevice struct {
	*FileDevice
	SectorSZ uint32
}

func NewSectorDevice(d *FileDevice, sectorsz uint32) *SectorDevice {
	return &SectorDevice{FileDevice: d, SectorSZ: sectorsz}
}

func (d *SectorDevice) EraseSector(offset uint32) error {
	if offset%d.SectorSZ != 0 {
		return fmt.Errorf("blockdev: erase offset %d not sector-aligned (sector %d)", offset, d.SectorSZ)
	}
	buf := bytes.Repeat([]byte{0xFF}, int(d.SectorSZ))
	if _, err := d.f.WriteAt(buf, int64(offset)); err != nil {
		return &IOErr{Op: "erase", Offset: offset, Err: err}
	}
	return nil
}
