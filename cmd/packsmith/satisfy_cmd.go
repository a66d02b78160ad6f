package main

import (
	"github.com/spf13/cobra"
)

// createSatisfyCommand creates the satisfy subcommand
func createSatisfyCommand() *cobra.Command {
	satisfyCmd := &cobra.Command{
		Use:   "satisfy",
		Short: "reconciles the tracked package set with what is on disk",
		Long: `Satisfy installs tracked packages that are missing,
		removes managed packages that are no longer tracked, finishes
		transactions deferred by locked files, prunes old backups and
		reconciles shared libraries. Run it at host startup.`,
		Args: cobra.NoArgs,
		RunE: executeSatisfy,
	}
	return satisfyCmd
}

func executeSatisfy(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	results := app.engine.Satisfy(cmd.Context())
	satisfyLibraries(cmd, app)
	return summarize(results)
}
