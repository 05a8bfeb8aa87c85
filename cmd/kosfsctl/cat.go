package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kosfs/kosfs/vfs"
)

var catCmd = &cobra.Command{
	Use:   "cat <image> <path>",
	Short: "print a file's contents to stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		m, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer closeImage(m, &err)

		h, err := m.v.Open(args[1], vfs.O_RDONLY)
		if err != nil {
			return err
		}
		defer m.v.CloseHandle(h)

		buf := make([]byte, 32*1024)
		for {
			n, rerr := m.v.Read(h, buf)
			if n > 0 {
				if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
					return werr
				}
			}
			if rerr == io.EOF {
				return nil
			}
			if rerr != nil {
				return rerr
			}
		}
	},
}
