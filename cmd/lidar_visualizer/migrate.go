package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/banshee-data/lidar-visualizer/internal/db"
)

func (a *app) newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate up|down|status|version N|force N",
		Short: "Manage the index cache schema",
		Args:  cobra.MinimumNArgs(1),
		RunE:  a.runMigrate,
	}
	cmd.Flags().BoolP("yes", "y", false, "do not ask before forcing a version")
	return cmd
}

func (a *app) runMigrate(cmd *cobra.Command, args []string) error {
	path, err := a.cachePath()
	if err != nil {
		return err
	}
	yes, _ := cmd.Flags().GetBool("yes")

	database, err := db.OpenDB(path)
	if err != nil {
		return err
	}
	defer database.Close()
	log.Debug().Str("path", path).Msg("index cache opened for migration")

	return db.RunMigrateCommand(database, db.MigrationsFS(), args, db.MigrateIO{
		Out:       cmd.OutOrStdout(),
		In:        cmd.InOrStdin(),
		AssumeYes: yes,
	})
}
