// Command kosfsctl mounts a FAT12/16/32 or ext2 image file and runs a
// single filesystem operation against it, grounded on the cobra
// command-tree shape direktiv-vorteil/cmd/vorteil and
// ostafen-digler/cmd/cmd both use (one root command, one subcommand
// package-level var per verb, persistent flags wired in an init-style
// setup function).
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kosfsctl",
	Short: "mount and inspect FAT12/16/32 and ext2 image files",
}

var (
	flagType       string
	flagRW         bool
	flagCacheSlots int
	flagLogLevel   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagType, "type", "auto", "filesystem type: fat, ext2, or auto")
	rootCmd.PersistentFlags().BoolVar(&flagRW, "rw", false, "mount read-write and persist changes back to the image file")
	rootCmd.PersistentFlags().IntVar(&flagCacheSlots, "cache-size", 0, "block cache slots per engine (0 = engine default)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "logrus level: trace, debug, info, warn, error")

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(cpCmd)
	rootCmd.AddCommand(mkdirCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
