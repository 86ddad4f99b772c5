package cmd

import (
	"github.com/spf13/cobra"

	"github.com/armadaproject/workqueue/internal/workqueue"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs the queue instance",
		RunE:  runQueue,
	}
	return cmd
}

func runQueue(_ *cobra.Command, _ []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	return workqueue.Run(config)
}
