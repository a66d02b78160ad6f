package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/packsmith/packsmith/internal/utils/logger"
)

// Persistent command flags
var (
	logLevel   string
	verbose    bool
	configPath string
	dataDir    string
)

func main() {
	rootCmd := createRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "packsmith",
		Short: "packsmith manages packages from multiple remote sources",
		Long: `Packsmith resolves packages from configured channels and
		repositories, keeps them up to date with transactional
		install/upgrade/remove operations, and satisfies the shared
		libraries the installed packages declare.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(resolveRequestedLogLevel(cmd))
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			logger.Init(log)
			return nil
		},
	}

	defaultData := defaultDataDir()
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, or error")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false,
		"Shorthand for --log-level debug")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the configuration file (default <data-dir>/packsmith.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultData,
		"Directory holding packages, backups and caches")

	rootCmd.AddCommand(createInstallCommand())
	rootCmd.AddCommand(createUpgradeCommand())
	rootCmd.AddCommand(createRemoveCommand())
	rootCmd.AddCommand(createSatisfyCommand())
	rootCmd.AddCommand(createListCommand())
	return rootCmd
}

// resolveRequestedLogLevel prefers an explicit --log-level; --verbose
// bumps the default to debug.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd != nil {
		if v, err := cmd.Flags().GetBool("verbose"); err == nil && v {
			return "debug"
		}
	}
	return "info"
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".packsmith"
	}
	return filepath.Join(home, ".packsmith")
}
