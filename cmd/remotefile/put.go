package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ftkit/remotefile"
)

var putNoTemp bool

var putCmd = &cobra.Command{
	Use:   "put <local-file> <remote-path>",
	Short: "Upload a local file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		factory, err := newFactory()
		if err != nil {
			return err
		}
		defer closeFactory(factory)

		opts := []remotefile.TemplateOption{remotefile.WithAutoCreateDirectory()}
		if putNoTemp {
			opts = append(opts, remotefile.WithoutTemporaryName())
		}
		template := remotefile.NewTemplate(factory, opts...)

		ctx, stop := signalContext()
		defer stop()

		if err := template.Put(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("Uploaded %s to %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	putCmd.Flags().BoolVar(&putNoTemp, "no-temp", false, "Write directly to the final name instead of staging with a temporary suffix")
}
