package main

import (
	"fmt"
	"path"

	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls <image> [path]",
	Short: "list a directory's entries",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		dir := "/"
		if len(args) == 2 {
			dir = args[1]
		}
		m, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer closeImage(m, &err)

		entries, err := m.v.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			st, err := m.v.Stat(path.Join(dir, e.Name))
			if err != nil {
				return err
			}
			kind := "-"
			if st.IsDir {
				kind = "d"
			}
			fmt.Printf("%s %10d %s %s\n", kind, st.Size, st.ModTime.Format("2006-01-02 15:04:05"), e.Name)
		}
		return err
	},
}
