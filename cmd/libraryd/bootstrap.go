package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/braindrive/library-service/internal/config"
	"github.com/braindrive/library-service/internal/schema"
	"github.com/braindrive/library-service/internal/scope"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap <user-id>",
	Short: "Create or repair a tenant's library directory tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cwd)
	if err != nil {
		return err
	}
	tenantID, err := scope.NormalizeUserID(args[0])
	if err != nil {
		fatal(cmd, err)
		return nil
	}
	libraryRoot := scope.ResolveLibraryRoot(cfg.LibraryPath, tenantID)
	result, err := schema.EnsureScopedLibraryStructure(libraryRoot, true, time.Now())
	if err != nil {
		fatal(cmd, err)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "bootstrapped %s\n  created: %d\n  migrated: %d\n  changed: %d\n",
		libraryRoot, len(result.CreatedPaths), len(result.MigratedPaths), len(result.ChangedPaths))
	return nil
}
