package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/mender/internal/db"
)

var dbPath string

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cleanup, err := openDBAt(dbPath)
		if err != nil {
			return err
		}
		defer cleanup()
		fmt.Fprintln(cmd.OutOrStdout(), "Database is up to date.")
		return nil
	},
}

var dbResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the database (destructive!)",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to drop all step and run history without --yes")
		}
		d, cleanup, err := openDBAt(dbPath)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := d.Reset(); err != nil {
			return err
		}
		if err := d.Migrate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Database reset.")
		return nil
	},
}

func init() {
	dbCmd.PersistentFlags().StringVar(&dbPath, "path", "", "database file (default ~/.mender/mender.db)")
	dbResetCmd.Flags().Bool("yes", false, "confirm the reset")
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbResetCmd)
}

// openDBAt opens and migrates the database at path, or the default
// location when path is empty.
func openDBAt(path string) (*db.DB, func(), error) {
	if path == "" {
		p, err := db.DefaultDBPath()
		if err != nil {
			return nil, nil, err
		}
		path = p
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, func() { d.Close() }, nil
}
