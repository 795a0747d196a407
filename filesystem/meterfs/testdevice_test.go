package meterfs

import "fmt"

// memDevice is an in-memory sectorDevice for tests: erased state is
// all-ones, writes only clear bits (mirroring real NOR semantics), and
// EraseSector requires sector alignment.
type memDevice struct {
	buf      []byte
	sectorsz uint32
	powered  bool
}

func newMemDevice(size, sectorsz uint32) *memDevice {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0xFF
	}
	return &memDevice{buf: buf, sectorsz: sectorsz}
}

func (d *memDevice) Read(offset uint32, buf []byte) (int, error) {
	if int(offset)+len(buf) > len(d.buf) {
		return 0, fmt.Errorf("memDevice: read out of range at %d", offset)
	}
	copy(buf, d.buf[offset:])
	return len(buf), nil
}

func (d *memDevice) Write(offset uint32, buf []byte) (int, error) {
	if int(offset)+len(buf) > len(d.buf) {
		return 0, fmt.Errorf("memDevice: write out of range at %d", offset)
	}
	for i, b := range buf {
		d.buf[int(offset)+i] &= b
	}
	return len(buf), nil
}

func (d *memDevice) EraseSector(offset uint32) error {
	if offset%d.sectorsz != 0 {
		return fmt.Errorf("memDevice: unaligned erase at %d", offset)
	}
	for i := uint32(0); i < d.sectorsz; i++ {
		d.buf[offset+i] = 0xFF
	}
	return nil
}

func (d *memDevice) Power(on bool) error {
	d.powered = on
	return nil
}

// faultyDevice wraps a sectorDevice and fails every Write after the first
// failAfter writes have gone through, for simulating a power loss
// partway through a multi-write operation (an append, a header update).
type faultyDevice struct {
	sectorDevice
	writes    int
	failAfter int
}

func (d *faultyDevice) Write(offset uint32, buf []byte) (int, error) {
	d.writes++
	if d.writes > d.failAfter {
		return 0, fmt.Errorf("faultyDevice: simulated power loss on write %d", d.writes)
	}
	return d.sectorDevice.Write(offset, buf)
}
