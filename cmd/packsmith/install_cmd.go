package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/packsmith/packsmith/internal/engine"
	"github.com/packsmith/packsmith/internal/utils/logger"
)

// createInstallCommand creates the install subcommand
func createInstallCommand() *cobra.Command {
	installCmd := &cobra.Command{
		Use:   "install PACKAGE...",
		Short: "installs one or more packages",
		Args:  cobra.MinimumNArgs(1),
		RunE:  executeInstall,
	}
	return installCmd
}

func executeInstall(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	tasks, err := app.engine.PlanInstall(cmd.Context(), args)
	if err != nil {
		return err
	}
	results := app.engine.Run(cmd.Context(), tasks, os.Stderr)
	satisfyLibraries(cmd, app)
	return summarize(results)
}

// satisfyLibraries reconciles shared libraries after package changes.
// Library failures warn instead of failing the package operation.
func satisfyLibraries(cmd *cobra.Command, app *app) {
	log := logger.Logger()
	required, err := app.libraries.FindRequired(app.host.PackagesDirectory())
	if err != nil {
		log.Warnf("Could not compute required libraries: %v", err)
		return
	}
	for name, err := range app.libraries.InstallLibraries(cmd.Context(), required) {
		log.Warnf("Library %s: %v", name, err)
	}
	if err := app.libraries.Cleanup(required); err != nil {
		log.Warnf("Library cleanup: %v", err)
	}
}

// summarize converts per-task results into a command error when any
// task failed outright. Deferred tasks are not failures.
func summarize(results map[string]engine.Result) error {
	var failed []string
	for name, r := range results {
		if r.Status == engine.StatusFailed {
			failed = append(failed, name)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	sort.Strings(failed)
	return fmt.Errorf("%d package(s) failed: %v", len(failed), failed)
}
