package main

import "github.com/spf13/cobra"

var serveCmd = &cobra.Command{
	Use:   "serve <image> <mountpoint>",
	Short: "export a mounted image over FUSE, read-only, until interrupted",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer m.close()
		return runServe(m, args[1])
	},
}
