package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/packsmith/packsmith/internal/engine"
)

// List command flags
var (
	listFormat    string = "text"
	listAvailable bool
)

// createListCommand creates the list subcommand
func createListCommand() *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "lists installed packages and their classified actions",
		Args:  cobra.NoArgs,
		RunE:  executeList,
	}
	listCmd.Flags().StringVar(&listFormat, "format", "text",
		"Output format: text or json")
	listCmd.Flags().BoolVar(&listAvailable, "available", false,
		"Include packages available from the configured sources")
	return listCmd
}

type listEntry struct {
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Action      string `json:"action,omitempty"`
	Description string `json:"description,omitempty"`
}

func executeList(cmd *cobra.Command, args []string) error {
	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.close()

	tasks, err := app.engine.PlanUpgrades(cmd.Context())
	if err != nil {
		return err
	}
	actions := actionIndex(tasks)

	installed, err := app.engine.InstalledPackages()
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	var entries []listEntry
	for _, name := range installed {
		seen[name] = true
		entry := listEntry{Name: name, Action: actions[name]}
		if record, err := app.engine.ReadRecord(name); err == nil && record != nil {
			entry.Version = record.Version
			entry.Description = record.Description
		}
		entries = append(entries, entry)
	}
	if listAvailable {
		for name, pkg := range app.resolver.ListAvailablePackages(cmd.Context()) {
			if seen[name] {
				continue
			}
			entry := listEntry{
				Name:        name,
				Action:      string(engine.ActionInstall),
				Description: pkg.Description,
			}
			if len(pkg.Releases) > 0 {
				entry.Version = pkg.Releases[0].Version
			}
			entries = append(entries, entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	out := cmd.OutOrStdout()
	switch listFormat {
	case "json":
		b, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, string(b))
		return nil
	case "text":
		renderEntries(out, entries)
		return nil
	default:
		return fmt.Errorf("invalid --format %q (expected text|json)", listFormat)
	}
}

// actionIndex maps package names, old names included, to the action
// classification chose for them.
func actionIndex(tasks []engine.Task) map[string]string {
	actions := make(map[string]string, len(tasks))
	for _, task := range tasks {
		actions[task.Name] = string(task.Action)
		if task.OldName != "" {
			actions[task.OldName] = string(task.Action)
		}
	}
	return actions
}

func renderEntries(out io.Writer, entries []listEntry) {
	for _, entry := range entries {
		line := entry.Name
		if entry.Version != "" {
			line += " " + entry.Version
		}
		if entry.Action != "" {
			line += " (" + entry.Action + ")"
		}
		fmt.Fprintln(out, line)
	}
}
