package meterfs

import (
	"bytes"
	"testing"

	"github.com/phx-systems/go-meterfs/blockdev"
)

func TestWriteReadSingleRecord(t *testing.T) {
	fs, _ := newTestFS(t, 8)
	if _, err := fs.Allocate("samples", 2, 64, 16, false); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	id, err := fs.Open("samples")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	payload := []byte("0123456789abcdef")
	if _, err := fs.Write(id, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 16)
	n, err := fs.Read(id, 0, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 16 || !bytes.Equal(buf, payload) {
		t.Fatalf("read mismatch: got %q", buf[:n])
	}
}

func TestWriteEvictsOldestOnceFull(t *testing.T) {
	fs, _ := newTestFS(t, 8)
	if _, err := fs.Allocate("ring", 2, 48, 16, false); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	id, err := fs.Open("ring")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// capacity is 48/16 = 3 records; write 5 to force wraparound and
	// confirm only the newest 3 survive, oldest-first.
	for i := 0; i < 5; i++ {
		rec := bytes.Repeat([]byte{byte('A' + i)}, 16)
		if _, err := fs.Write(id, rec); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	info, err := fs.Info(id)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.RecordCnt != 3 {
		t.Fatalf("expected 3 live records after wraparound, got %d", info.RecordCnt)
	}

	buf := make([]byte, 48)
	n, err := fs.Read(id, 0, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := bytes.Repeat([]byte{'C'}, 16)
	want = append(want, bytes.Repeat([]byte{'D'}, 16)...)
	want = append(want, bytes.Repeat([]byte{'E'}, 16)...)
	if !bytes.Equal(buf[:n], want) {
		t.Fatalf("ring contents after wraparound mismatch: got %q want %q", buf[:n], want)
	}
}

func TestEncryptedRoundTrip(t *testing.T) {
	dev := newMemDevice(8*testSectorSZ, testSectorSZ)
	key := bytes.Repeat([]byte{0x42}, 16)
	fs, err := Mount(dev, Params{
		Region:     blockdev.Region{Size: 8 * testSectorSZ, SectorSZ: testSectorSZ},
		EncryptKey: key,
	})
	if err != nil {
		t.Fatalf("mount: %v", err)
	}

	if _, err := fs.Allocate("secret", 2, 64, 16, true); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	id, err := fs.Open("secret")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	payload := []byte("topsecretpayload")
	if _, err := fs.Write(id, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]byte, 16)
	if _, err := fs.Read(id, 0, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("decrypted payload mismatch: got %q", buf)
	}
}

func TestEncryptedWithoutKeyFails(t *testing.T) {
	fs, _ := newTestFS(t, 8)
	if _, err := fs.Allocate("secret", 2, 64, 16, true); err == nil {
		t.Fatalf("expected allocate to reject Ncrypt without a mount-time key")
	}
}
