package main

import (
	"fmt"
	"path"

	"github.com/spf13/cobra"

	"github.com/ftkit/remotefile"
)

var (
	lsPattern string
	lsLong    bool
)

var lsCmd = &cobra.Command{
	Use:   "ls [remote-dir]",
	Short: "List remote files",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		factory, err := newFactory()
		if err != nil {
			return err
		}
		defer closeFactory(factory)

		remotePath := "."
		if len(args) == 1 {
			remotePath = args[0]
		}
		if lsPattern != "" {
			remotePath = path.Join(remotePath, lsPattern)
		}

		template := remotefile.NewTemplate(factory)

		ctx, stop := signalContext()
		defer stop()

		entries, err := template.List(ctx, remotePath)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if lsLong {
				fmt.Printf("%s %12d %s %s\n", e.Mode, e.Size, e.ModTime.Format("2006-01-02 15:04:05"), e.Name)
			} else {
				fmt.Println(e.Name)
			}
		}
		return nil
	},
}

func init() {
	lsCmd.Flags().StringVar(&lsPattern, "pattern", "", "Glob pattern to filter filenames, e.g. '*.csv'")
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "Long listing with mode, size, and modification time")
}
