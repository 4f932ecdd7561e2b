package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zr-build/zr/internal/zrerrors"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Execute one task and its dependency closure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			if err := a.load(); err != nil {
				return err
			}
			target := args[0]
			if _, ok := a.Config.Tasks[target]; !ok {
				return zrerrors.New(zrerrors.TaskNotFound, "cli", fmt.Sprintf("unknown task %q", target), nil)
			}
			g, err := closureGraph(a.Config.Tasks, []string{target})
			if err != nil {
				return err
			}
			res, err := runGraph(cmd.Context(), a, g, false, target)
			if err != nil {
				return err
			}
			if err := emitRunResult(os.Stdout, a.Format, a.NoColor, res); err != nil {
				return err
			}
			if !res.Success {
				os.Exit(exitFailure)
			}
			return nil
		},
	}
	return cmd
}
