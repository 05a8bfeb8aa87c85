package main

import "github.com/spf13/cobra"

var flagRmDir bool

func init() {
	rmCmd.Flags().BoolVar(&flagRmDir, "dir", false, "remove an empty directory instead of a file")
}

var rmCmd = &cobra.Command{
	Use:   "rm <image> <path>",
	Short: "remove a file, or an empty directory with --dir (requires --rw)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		m, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer closeImage(m, &err)
		if flagRmDir {
			return m.v.Rmdir(args[1])
		}
		return m.v.Remove(args[1])
	},
}
