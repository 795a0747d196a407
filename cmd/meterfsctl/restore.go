package main

import (
	"fmt"
	"io"
	"os"
)

type restoreCommand struct {
	Image      string `short:"i" long:"image" description:"Path to the chip image" required:"true"`
	Offset     uint32 `long:"offset" description:"Byte offset of the MeterFS region within the image" required:"true"`
	Size       uint32 `long:"size" description:"Byte size of the MeterFS region" required:"true"`
	SectorSize uint32 `long:"sector-size" description:"Flash sector size in bytes" required:"true"`
	File       string `short:"f" long:"file" description:"MeterFS file name to restore into" required:"true"`
	Input      string `long:"input" description:"Archive path to read ('-' for stdin)" required:"true"`
	Codec      string `short:"c" long:"codec" description:"Compression codec" choice:"lz4" choice:"xz" default:"lz4"`
}

func (c *restoreCommand) Execute(args []string) error {
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

	in := os.Stdin
	if c.Input != "-" {
		f, err := os.Open(c.Input)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer f.Close()
		in = f
	}

	zr, err := newDecompressor(in, c.Codec)
	if err != nil {
		return err
	}

	raw, err := io.ReadAll(zr)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}

	written := 0
	for off := 0; off < len(raw); off += int(info.RecordSZ) {
		end := off + int(info.RecordSZ)
		if end > len(raw) {
			end = len(raw)
		}
		n, err := fs.Write(id, raw[off:end])
		if err != nil {
			return fmt.Errorf("write record at byte %d: %w", off, err)
		}
		written += n
	}

	log.WithField("file", c.File).WithField("bytes", written).Info("restored")
	return nil
}
