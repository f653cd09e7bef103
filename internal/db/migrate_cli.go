package db

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
)

// ErrAborted is returned when the user declines a forced migration.
var ErrAborted = errors.New("aborted")

// MigrateIO carries the streams used by RunMigrateCommand.
type MigrateIO struct {
	Out       io.Writer
	In        io.Reader // confirmation input for force
	AssumeYes bool
}

// RunMigrateCommand dispatches a 'migrate' action: up, down, status,
// version N or force N.
func RunMigrateCommand(database *DB, migrationsFS fs.FS, args []string, stdio MigrateIO) error {
	if len(args) < 1 {
		PrintMigrateHelp(stdio.Out)
		return fmt.Errorf("missing migrate action")
	}

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(stdio.Out, "✓ All migrations applied successfully")
		return printStatus(database, migrationsFS, stdio.Out)

	case "down":
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(stdio.Out, "✓ Migration rolled back successfully")
		return printStatus(database, migrationsFS, stdio.Out)

	case "status":
		return printStatus(database, migrationsFS, stdio.Out)

	case "version":
		if len(args) < 2 {
			return fmt.Errorf("usage: lidar_visualizer migrate version <version_number>")
		}
		target, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if err := database.MigrateTo(migrationsFS, uint(target)); err != nil {
			return err
		}
		fmt.Fprintf(stdio.Out, "✓ Migrated to version %d successfully\n", target)
		return nil

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: lidar_visualizer migrate force <version_number>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if !stdio.AssumeYes {
			fmt.Fprintf(stdio.Out, "⚠️  WARNING: Forcing migration version to %d\n", version)
			fmt.Fprintln(stdio.Out, "This should only be used to recover from a dirty migration state.")
			fmt.Fprint(stdio.Out, "Continue? [y/N]: ")
			if !confirmed(stdio.In) {
				return ErrAborted
			}
		}
		if err := database.MigrateForce(migrationsFS, version); err != nil {
			return err
		}
		fmt.Fprintf(stdio.Out, "✓ Migration version forced to %d\n", version)
		return nil

	case "help":
		PrintMigrateHelp(stdio.Out)
		return nil

	default:
		PrintMigrateHelp(stdio.Out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func confirmed(in io.Reader) bool {
	if in == nil {
		return false
	}
	line, _ := bufio.NewReader(in).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printStatus(database *DB, migrationsFS fs.FS, out io.Writer) error {
	status, err := database.GetMigrationStatus(migrationsFS)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", status.Version)
	fmt.Fprintf(out, "Latest available: %d\n", status.Latest)
	fmt.Fprintf(out, "Dirty: %v\n", status.Dirty)
	if status.Dirty {
		fmt.Fprintln(out, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(out, "Inspect the database, then run: lidar_visualizer migrate force <version>")
	} else if n := status.Pending(); n > 0 {
		fmt.Fprintf(out, "Outstanding migrations: %d (run 'lidar_visualizer migrate up')\n", n)
	}
	return nil
}

// PrintMigrateHelp displays the help message for the migrate command.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Index cache migration commands

Usage: lidar_visualizer migrate <command> [options]

Commands:
  up              Apply all pending migrations
  down            Rollback one migration
  status          Show current migration status and version
  version <N>     Migrate to specific version N
  force <N>       Force migration version to N (recovery only)
  help            Show this help message

Options:
  --cache-db <path>    Path to the index cache (default: user cache directory)
`)
}
