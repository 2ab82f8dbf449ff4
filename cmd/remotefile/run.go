package main

import (
	"errors"
	"log"

	"github.com/spf13/cobra"

	"github.com/ftkit/remotefile"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run scheduled transfer tasks from a config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfgConfig == "" {
			return errors.New("--config is required")
		}
		cfg, err := remotefile.LoadConfig(cfgConfig)
		if err != nil {
			return err
		}
		poller, err := cfg.BuildPoller()
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		poller.Start(ctx)
		log.Printf("remotefile started with %d tasks", len(cfg.Tasks))

		<-ctx.Done()
		log.Println("Shutting down...")
		poller.Stop()
		return nil
	},
}
