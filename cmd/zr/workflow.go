package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zr-build/zr/internal/zrerrors"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow <name>",
		Short: "Execute all stages of a named workflow in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			if err := a.load(); err != nil {
				return err
			}
			name := args[0]
			wf, ok := a.Config.Workflows[name]
			if !ok {
				return zrerrors.New(zrerrors.TaskNotFound, "cli", fmt.Sprintf("unknown workflow %q", name), nil)
			}

			overallSuccess := true
			for _, stage := range wf.Stages {
				g, err := closureGraph(a.Config.Tasks, stage.Tasks)
				if err != nil {
					return fmt.Errorf("stage %q: %w", stage.Name, err)
				}
				res, err := runGraph(cmd.Context(), a, g, stage.FailFast, name+"/"+stage.Name)
				if err != nil {
					return fmt.Errorf("stage %q: %w", stage.Name, err)
				}
				if err := emitRunResult(os.Stdout, a.Format, a.NoColor, res); err != nil {
					return err
				}
				if !res.Success {
					overallSuccess = false
					if stage.FailFast {
						break
					}
				}
			}
			if !overallSuccess {
				os.Exit(exitFailure)
			}
			return nil
		},
	}
	return cmd
}
