package main

import (
	"fmt"
	"os"

	"github.com/phx-systems/go-meterfs/ptable"
)

type listCommand struct {
	Image      string `short:"i" long:"image" description:"Path to the chip image" required:"true"`
	ChipSize   uint32 `long:"chip-size" description:"Total chip size in bytes" required:"true"`
	SectorSize uint32 `long:"sector-size" description:"Flash sector size in bytes" required:"true"`
}

func (c *listCommand) Execute(args []string) error {
	data, err := os.ReadFile(c.Image)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	table, err := ptable.Read(data, c.ChipSize, c.SectorSize)
	if err != nil {
		return fmt.Errorf("read partition table: %w", err)
	}

	fmt.Printf("%-8s %-10s %-10s %s\n", "NAME", "OFFSET", "SIZE", "TYPE")
	for _, p := range table.Partitions {
		kind := "raw"
		if p.Type == ptable.TypeMeterFS {
			kind = "meterfs"
		}
		fmt.Printf("%-8s %-10d %-10d %s\n", p.Name, p.Offset, p.Size, kind)
	}
	return nil
}
