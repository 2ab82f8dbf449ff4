package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ftkit/remotefile"
)

var getCmd = &cobra.Command{
	Use:   "get <remote-path> <local-file>",
	Short: "Download a remote file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		factory, err := newFactory()
		if err != nil {
			return err
		}
		defer closeFactory(factory)

		template := remotefile.NewTemplate(factory)

		ctx, stop := signalContext()
		defer stop()

		if err := template.Get(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Downloaded %s to %s\n", args[0], args[1])
		return nil
	},
}
