package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zr-build/zr/internal/zrerrors"
)

// exit codes per the external command-line surface: 0 success, 1 task
// failure/configuration error/validation failure, 2 reserved for usage
// errors.
const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

var rootCmd = &cobra.Command{
	Use:           "zr",
	Short:         "A deterministic, cache-aware task runner and build orchestrator.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().Int("jobs", 0, "maximum concurrent tasks (0 = no explicit cap)")
	rootCmd.PersistentFlags().Bool("dry-run", false, "print the execution plan without running anything")
	rootCmd.PersistentFlags().String("profile", "", "named profile to apply (falls back to ZR_PROFILE)")
	rootCmd.PersistentFlags().String("config", "", "path to the configuration file (default zr.yaml in the working directory)")
	rootCmd.PersistentFlags().String("format", "text", "output format: text|json")
	rootCmd.PersistentFlags().Bool("no-color", false, "disable colored text output")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-error log output")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug log output")

	for _, name := range []string{"jobs", "dry-run", "profile", "config", "format", "no-color", "quiet", "verbose"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("zr")
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newRunCmd(),
		newWorkflowCmd(),
		newWatchCmd(),
		newAffectedCmd(),
		newGraphCmd(),
		newListCmd(),
		newValidateCmd(),
		newCacheCmd(),
		newHistoryCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeForError(err))
	}
}

// exitCodeForError maps a returned command error to the process exit code.
// Subcommands that need exitFailure (task/config failure) call os.Exit
// themselves after rendering output; an error bubbling up to here through
// cobra's RunE is, by default, a usage-level failure (bad flags, unknown
// task/workflow). zrerrors.Kind lets configuration errors (an unreadable or
// invalid configuration, an unknown profile) and a handful of deeper
// failures (cache I/O, spawn failures) that escape without an explicit
// os.Exit still report as exitFailure rather than exitUsage.
func exitCodeForError(err error) int {
	if err == nil {
		return exitSuccess
	}
	switch {
	case zrerrors.Is(err, zrerrors.ConfigurationInvalid),
		zrerrors.Is(err, zrerrors.CacheIOFailure), zrerrors.Is(err, zrerrors.SpawnFailed),
		zrerrors.Is(err, zrerrors.Timeout), zrerrors.Is(err, zrerrors.Cancelled):
		return exitFailure
	default:
		return exitUsage
	}
}
