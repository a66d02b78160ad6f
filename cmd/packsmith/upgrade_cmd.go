package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/packsmith/packsmith/internal/engine"
	"github.com/packsmith/packsmith/internal/utils/logger"
)

// createUpgradeCommand creates the upgrade subcommand
func createUpgradeCommand() *cobra.Command {
	upgradeCmd := &cobra.Command{
		Use:   "upgrade [PACKAGE...]",
		Short: "upgrades installed packages to their latest releases",
		Long: `Upgrade classifies every installed package against the
		configured channels and repositories and applies the resulting
		upgrades and pulls. With package names given, only those
		packages are considered.`,
		RunE: executeUpgrade,
	}
	return upgradeCmd
}

func executeUpgrade(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	tasks, err := app.engine.PlanUpgrades(cmd.Context())
	if err != nil {
		return err
	}
	if len(args) > 0 {
		tasks = filterTasks(tasks, args)
	}

	actionable := upgradeableTasks(tasks)
	if len(actionable) == 0 {
		logger.Logger().Info("Everything is up to date")
		return nil
	}

	results := app.engine.Run(cmd.Context(), actionable, os.Stderr)
	satisfyLibraries(cmd, app)
	return summarize(results)
}

// upgradeableTasks keeps only upgrades and VCS pulls. Reinstalls,
// overwrites and downgrades need an explicit install.
func upgradeableTasks(tasks []engine.Task) []engine.Task {
	var out []engine.Task
	for _, task := range tasks {
		if task.Action == engine.ActionUpgrade || task.Action == engine.ActionPull {
			out = append(out, task)
		}
	}
	return out
}

func filterTasks(tasks []engine.Task, names []string) []engine.Task {
	wanted := map[string]bool{}
	for _, name := range names {
		wanted[name] = true
	}
	var out []engine.Task
	for _, task := range tasks {
		if wanted[task.Name] || wanted[task.OldName] {
			out = append(out, task)
		}
	}
	return out
}
