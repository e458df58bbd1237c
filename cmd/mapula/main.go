// mapula collects mapping statistics from SAM/BAM files and combines the
// resulting JSON reports.
package main

import (
	"log"

	"v.io/x/lib/cmdline"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "mapula",
			Short:    "Collect and combine mapping statistics from SAM/BAM files",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdCount(),
				newCmdAggregate(),
			},
		})
}
