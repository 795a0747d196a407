// Package meterfs implements the on-device wear-leveled, log-structured
// filesystem used to store fixed-size time-series records in a small number
// of preallocated circular files on raw NOR flash.
//
// The package mirrors the layout of the teacher filesystem packages in this
// module family: one package per on-disk format, a Params struct for
// creation/mount options, and From/To-bytes codecs built on raw
// encoding/binary rather than a reflection-based packer.
package meterfs

import (
	"fmt"

	"github.com/phx-systems/go-meterfs/blockdev"
	"github.com/sirupsen/logrus"
)

const (
	// HGRAIN is the fixed size, in bytes, of one header-region metadata
	// slot: either the filesystem Header or one FileHeader.
	HGRAIN = 32

	// magicLen is the length of the filesystem magic in bytes.
	magicLen = 4
)

// magic identifies a valid MeterFS header grain.
var magic = [magicLen]byte{0xAA, 0x41, 0x4B, 0x55}

// FormatVersion is stamped into every Header written by this package.
const FormatVersion = 1

// Params configures a Mount. EncryptKey, if non-nil, must be exactly 16
// bytes and enables AES-CTR + keyed-MAC protection for any file allocated
// with encryption on (§4.2); it is opaque to the core beyond that.
type Params struct {
	Region     blockdev.Region
	EncryptKey []byte
}

// FS is a mounted MeterFS instance. All operations funnel through its
// single dispatch lock (§4.9, §5); FS is safe for concurrent use by
// multiple goroutines precisely because of that lock.
type FS struct {
	dev    sectorDevice
	region blockdev.Region

	headerSize uint32 // bytes occupied by one header region
	maxFileCnt int
	liveBase   uint32 // offset of the currently-live header region
	spareBase  uint32
	generation uint32
	fileCount  int
	dataBase   uint32 // offset where file data sectors begin

	crypto *cryptoHelper

	cache *descriptorCache
	log   *logrus.Entry

	lock chan struct{} // 1-buffered channel used as the coarse dispatch lock
}

// sectorDevice is the blockdev.Device method set meterfs needs;
// blockdev.SectorDevice satisfies it.
type sectorDevice interface {
	Read(offset uint32, buf []byte) (int, error)
	Write(offset uint32, buf []byte) (int, error)
	EraseSector(offset uint32) error
	Power(on bool) error
}

// Mount validates params, reads both header regions, repairs or formats as
// needed (§4.4), and returns a ready FS handle.
func Mount(dev sectorDevice, params Params) (*FS, error) {
	if err := params.Region.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if params.Region.SectorSZ%HGRAIN != 0 {
		return nil, fmt.Errorf("%w: sector size %d not a multiple of HGRAIN (%d)", ErrInvalid, params.Region.SectorSZ, HGRAIN)
	}

	headerSize := params.Region.SectorSZ
	maxFileCnt := int((headerSize - HGRAIN) / HGRAIN)
	if maxFileCnt <= 0 {
		return nil, fmt.Errorf("%w: sector size %d too small to hold any file header", ErrInvalid, params.Region.SectorSZ)
	}

	var crypto *cryptoHelper
	if params.EncryptKey != nil {
		var err error
		crypto, err = newCryptoHelper(params.EncryptKey)
		if err != nil {
			return nil, err
		}
	}

	fs := &FS{
		dev:        dev,
		region:     params.Region,
		headerSize: headerSize,
		maxFileCnt: maxFileCnt,
		dataBase:   params.Region.Offset + 2*headerSize,
		crypto:     crypto,
		cache:      newDescriptorCache(),
		log:        logrus.WithField("component", "meterfs"),
		lock:       make(chan struct{}, 1),
	}
	fs.lock <- struct{}{}

	if err := fs.mountHeaders(); err != nil {
		return nil, err
	}

	return fs, nil
}

// acquire takes the coarse dispatch lock, bracketing flash I/O with a power
// transition (§4.9, §5). release must be deferred immediately after.
func (fs *FS) acquire() (func(), error) {
	<-fs.lock
	if err := fs.dev.Power(true); err != nil {
		fs.lock <- struct{}{}
		return nil, fmt.Errorf("%w: power on: %v", ErrIOError, err)
	}
	return func() {
		_ = fs.dev.Power(false)
		fs.lock <- struct{}{}
	}, nil
}
