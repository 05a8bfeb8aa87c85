package main

import "github.com/spf13/cobra"

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <image> <path>",
	Short: "create an empty directory (requires --rw)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		m, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer closeImage(m, &err)
		return m.v.Mkdir(args[1])
	},
}
