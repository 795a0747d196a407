package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/phx-systems/go-meterfs/blockdev"
	"github.com/phx-systems/go-meterfs/filesystem/meterfs"
)

type dumpCommand struct {
	Image      string `short:"i" long:"image" description:"Path to the chip image" required:"true"`
	Offset     uint32 `long:"offset" description:"Byte offset of the MeterFS region within the image" required:"true"`
	Size       uint32 `long:"size" description:"Byte size of the MeterFS region" required:"true"`
	SectorSize uint32 `long:"sector-size" description:"Flash sector size in bytes" required:"true"`
	File       string `short:"f" long:"file" description:"MeterFS file name to dump" required:"true"`
	Output     string `short:"o" long:"output" description:"Archive path to write ('-' for stdout)" required:"true"`
	Codec      string `short:"c" long:"codec" description:"Compression codec" choice:"lz4" choice:"xz" default:"lz4"`
}

func (c *dumpCommand) Execute(args []string) error {
	fs, closeFn, err := openRegion(c.Image, c.Offset, c.Size, c.SectorSize)
	if err != nil {
		return err
	}
	defer closeFn()

	id, err := fs.Open(c.File)
	if err != nil {
		return fmt.Errorf("open %q: %w", c.File, err)
	}
	defer fs.Close(id)

	info, err := fs.Info(id)
	if err != nil {
		return fmt.Errorf("stat %q: %w", c.File, err)
	}

	out := os.Stdout
	if c.Output != "-" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	w, closeCodec, err := newCompressor(out, c.Codec)
	if err != nil {
		return err
	}
	defer closeCodec()

	buf := make([]byte, info.RecordSZ*info.RecordCnt)
	n, err := fs.Read(id, 0, buf)
	if err != nil {
		return fmt.Errorf("read %q: %w", c.File, err)
	}
	if _, err := w.Write(buf[:n]); err != nil {
		return fmt.Errorf("compress: %w", err)
	}

	log.WithField("file", c.File).WithField("bytes", n).Info("dumped")
	return nil
}

func newCompressor(w io.Writer, codec string) (io.Writer, func(), error) {
	switch codec {
	case "lz4":
		zw := lz4.NewWriter(w)
		return zw, func() { zw.Close() }, nil
	case "xz":
		zw, err := xz.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("init xz writer: %w", err)
		}
		return zw, func() { zw.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown codec %q", codec)
	}
}

func newDecompressor(r io.Reader, codec string) (io.Reader, error) {
	switch codec {
	case "lz4":
		return lz4.NewReader(r), nil
	case "xz":
		zr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("init xz reader: %w", err)
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", codec)
	}
}

func openRegion(image string, offset, size, sectorsz uint32) (*meterfs.FS, func(), error) {
	fd, err := blockdev.OpenFileDevice(image, int64(offset+size))
	if err != nil {
		return nil, nil, fmt.Errorf("open image: %w", err)
	}
	sd := blockdev.NewSectorDevice(fd, sectorsz)

	fs, err := meterfs.Mount(sd, meterfs.Params{
		Region: blockdev.Region{Offset: offset, Size: size, SectorSZ: sectorsz},
	})
	if err != nil {
		fd.Close()
		return nil, nil, fmt.Errorf("mount: %w", err)
	}
	return fs, func() { fd.Close() }, nil
}
