package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dshills/langgraph-travel/graph/tool"
	"github.com/dshills/langgraph-travel/internal/travel"
)

// NewDBCommand creates the db command group.
func NewDBCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the local travel database",
	}
	cmd.AddCommand(newDBInitCommand(rootOpts))
	cmd.AddCommand(newDBResetCommand(rootOpts))
	return cmd
}

func newDBInitCommand(rootOpts *RootOptions) *cobra.Command {
	var download bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the travel database",
		Long: `Create the local travel database and its backup.

By default the database is filled with a small demo data set. With
--download the full benchmark database is fetched from travel.db_url.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := rootOpts.Config.Travel
			ctx := cmd.Context()
			if download {
				if err := travel.Download(ctx, tool.NewHTTPTool(), t.DBURL, t.LocalDBPath, t.BackupDBPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %s\n", t.LocalDBPath)
				return nil
			}

			if dir := filepath.Dir(t.LocalDBPath); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create database directory: %w", err)
				}
			}
			db, err := travel.Open(t.LocalDBPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			if err := db.Seed(ctx); err != nil {
				return err
			}
			if err := db.Backup(ctx, t.BackupDBPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s (backup %s)\n", t.LocalDBPath, t.BackupDBPath)
			return nil
		},
	}

	cmd.Flags().BoolVar(&download, "download", false, "download the full database instead of seeding")

	return cmd
}

func newDBResetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Restore the travel database from its backup",
		Long: `Restore the local travel database from its backup and move every flight
and booking date so that the latest departure is now. The database is
downloaded first when it does not exist.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			t := rootOpts.Config.Travel
			ctx := cmd.Context()
			if err := travel.EnsureLocal(ctx, tool.NewHTTPTool(), t.DBURL, t.LocalDBPath, t.BackupDBPath); err != nil {
				return err
			}
			if err := travel.Reset(ctx, t.LocalDBPath, t.BackupDBPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", t.LocalDBPath)
			return nil
		},
	}
}
