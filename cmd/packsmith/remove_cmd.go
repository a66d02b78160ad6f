package main

import (
	"os"

	"github.com/spf13/cobra"
)

// createRemoveCommand creates the remove subcommand
func createRemoveCommand() *cobra.Command {
	removeCmd := &cobra.Command{
		Use:   "remove PACKAGE...",
		Short: "removes installed packages",
		Args:  cobra.MinimumNArgs(1),
		RunE:  executeRemove,
	}
	return removeCmd
}

func executeRemove(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	tasks, err := app.engine.PlanRemove(args)
	if err != nil {
		return err
	}
	results := app.engine.Run(cmd.Context(), tasks, os.Stderr)
	satisfyLibraries(cmd, app)
	return summarize(results)
}
