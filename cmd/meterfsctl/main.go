// Command meterfsctl inspects and manipulates MeterFS chip images offline:
// listing the partition table, dumping one MeterFS file's records to a
// compressed archive, and appending an archive's records back into a file.
package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("cmd", "meterfsctl")

type options struct{}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.AddCommand("list", "List the partitions in a chip image", "", &listCommand{})
	parser.AddCommand("dump", "Dump a MeterFS file's records to an archive", "", &dumpCommand{})
	parser.AddCommand("restore", "Append an archive's records to a MeterFS file", "", &restoreCommand{})

	if _, err := parser.Parse(); err != nil {
		if flagErr, ok := err.(*flags.Error); ok && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
