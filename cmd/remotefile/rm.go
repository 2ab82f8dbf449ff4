package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ftkit/remotefile"
)

var rmCmd = &cobra.Command{
	Use:   "rm <remote-path>...",
	Short: "Remove remote files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		factory, err := newFactory()
		if err != nil {
			return err
		}
		defer closeFactory(factory)

		template := remotefile.NewTemplate(factory)

		ctx, stop := signalContext()
		defer stop()

		return template.Execute(ctx, func(s remotefile.Session) error {
			for _, remotePath := range args {
				if err := s.Remove(remotePath); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", remotePath)
			}
			return nil
		})
	},
}
