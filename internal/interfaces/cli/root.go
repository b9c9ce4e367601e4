// Package cli implements the echem command line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fsu-schubert-battery/echem-data-tool/internal/domain/constants"
	"github.com/fsu-schubert-battery/echem-data-tool/internal/version"
)

const (
	appTitle = "Echem Data Tool - Data evaluation tool for electrochemical experiments"
	// bannerVersion is the release printed by a bare invocation. The
	// version command reports the build version instead.
	bannerVersion = "0.1.0"
)

// bannerConstants are the constants printed by a bare invocation, in order
var bannerConstants = []struct {
	label string
	key   string
}{
	{"Faraday constant (F)", constants.FaradayConstant},
	{"Gas constant (R)", constants.MolarGasConstant},
	{"Avogadro constant (N_A)", constants.AvogadroConstant},
	{"Elementary charge (e)", constants.ElementaryCharge},
}

// usageError marks errors caused by bad arguments or flags. They are
// reported together with the command usage.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

// usageArgs wraps a cobra argument validator so its errors print usage
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

// Execute runs the command line and returns the process exit code
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	defer a.close()

	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	var ue *usageError
	if errors.As(err, &ue) {
		fmt.Fprint(stderr, cmd.UsageString())
	}
	return 1
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "echem",
		Short: "Data evaluation tool for electrochemical experiments",
		Long: `Echem Data Tool reads raw potentiostat and battery cycler exports,
normalizes them into SI channels and runs impedance, cycling and
rotating disk electrode analyses.

Run without arguments to print the version and the reference constants.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &usageError{err: fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeBanner(cmd.OutOrStdout())
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ./config.toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newVersionCommand(),
		newConstantsCommand(),
		newImportCommand(a),
		newAnalyzeCommand(a),
		newListCommand(a),
		newResultsCommand(a),
		newInspectCommand(a),
		newMigrateCommand(a),
	)
	return root
}

// writeBanner prints the title, the version and the reference constants
func writeBanner(w io.Writer) error {
	if _, err := fmt.Fprintln(w, appTitle); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Version: %s\n", bannerVersion); err != nil {
		return err
	}
	for _, bc := range bannerConstants {
		c := constants.MustGet(bc.key)
		if _, err := fmt.Fprintf(w, "%s: %s %s\n", bc.label, c.FormatValue(), c.Unit); err != nil {
			return err
		}
	}
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  usageArgs(cobra.NoArgs),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "echem %s\n", version.Get())
		},
	}
}
