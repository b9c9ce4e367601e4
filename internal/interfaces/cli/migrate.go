package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/config"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/infrastructure/migration"
)

const defaultMigrationsDir = "internal/infrastructure/migration/sql"

func newMigrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the catalog database schema",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return &usageError{err: fmt.Errorf("a migrate subcommand is required")}
		},
	}

	cmd.AddCommand(
		migrateAction(a, "up", "Apply all pending migrations", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error { return m.Up() }),
		migrateAction(a, "down", "Roll back all migrations", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error { return m.Down() }),
		migrateAction(a, "step <n>", "Apply n migrations (negative rolls back)", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return &usageError{err: fmt.Errorf("invalid step count %q", args[0])}
				}
				return m.Steps(n)
			}),
		migrateAction(a, "goto <version>", "Migrate to a specific version", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return &usageError{err: fmt.Errorf("invalid version %q", args[0])}
				}
				return m.GoTo(uint(v))
			}),
		migrateAction(a, "force <version>", "Force the recorded version after a failed migration", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return &usageError{err: fmt.Errorf("invalid version %q", args[0])}
				}
				return m.Force(v)
			}),
		newMigrateVersionCommand(a),
		newMigrateCreateCommand(),
		newMigrateListCommand(a),
	)
	return cmd
}

// migrateAction builds a subcommand that runs fn on an open migrator
func migrateAction(a *app, use, short string, args cobra.PositionalArgs, fn func(*migration.Migrator, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  usageArgs(args),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.migrator()
			if err != nil {
				return err
			}
			defer m.Close()
			return fn(m, args)
		},
	}
}

func newMigrateVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.migrator()
			if err != nil {
				return err
			}
			defer m.Close()

			v, dirty, err := m.Version()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case v == 0:
				_, err = fmt.Fprintln(out, "No migrations applied")
			case dirty:
				_, err = fmt.Fprintf(out, "Version %d (dirty)\n", v)
			default:
				_, err = fmt.Fprintf(out, "Version %d\n", v)
			}
			return err
		},
	}
}

func newMigrateCreateCommand() *cobra.Command {
	var dir, description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty up/down migration pair for every database",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := migration.CreateMigration(dir, args[0], description)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n        %s\n", f.UpPath, f.DownPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", defaultMigrationsDir, "migrations root directory")
	cmd.Flags().StringVar(&description, "description", "", "description written into the files")
	return cmd
}

func newMigrateListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the migrations built into this binary",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(); err != nil {
				return err
			}
			driver := a.cfg.Catalog.Driver
			if driver == "" {
				driver = config.DriverSQLite
			}
			names, err := migration.Available(driver)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				_, err := fmt.Fprintln(out, "No migrations found")
				return err
			}
			for _, n := range names {
				fmt.Fprintf(out, "  - %s\n", n)
			}
			return nil
		},
	}
}
