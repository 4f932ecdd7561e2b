package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zr-build/zr/internal/affected"
	"github.com/zr-build/zr/internal/workspace"
	"github.com/zr-build/zr/internal/zrerrors"
)

func newAffectedCmd() *cobra.Command {
	var baseRef string

	cmd := &cobra.Command{
		Use:   "affected <task>",
		Short: "Run <task> only for workspace members affected by changes since --base-ref",
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
			if a.Config.Workspace == nil {
				return zrerrors.New(zrerrors.ConfigurationInvalid, "cli", "no workspace declared in configuration", nil)
			}

			members, err := workspace.ResolveMembers(a.WorkDir, a.Config.Workspace.Members, a.Config.Workspace.ConfigFile)
			if err != nil {
				return zrerrors.New(zrerrors.WorkspaceResolutionFailure, "cli", "resolve workspace members", err)
			}
			wg, err := workspace.BuildGraph(members)
			if err != nil {
				return zrerrors.New(zrerrors.WorkspaceResolutionFailure, "cli", "build workspace graph", err)
			}

			changed, err := affected.ChangedPaths(cmd.Context(), a.WorkDir, baseRef)
			if err != nil {
				return fmt.Errorf("detect changed paths: %w", err)
			}
			directlyAffected := affected.Detect(changed, members)
			expanded := affected.ExpandWithDependents(directlyAffected, wg)

			if len(expanded) == 0 {
				a.Log.Info("no affected members", "base_ref", baseRef)
				return nil
			}

			targets := make([]string, 0, len(expanded))
			for _, m := range expanded {
				targets = append(targets, m+"/"+target)
			}
			// Members whose config does not declare this task name are
			// skipped rather than failing the whole run.
			filtered := targets[:0]
			for _, t := range targets {
				if _, ok := a.Config.Tasks[t]; ok {
					filtered = append(filtered, t)
				}
			}
			if len(filtered) == 0 {
				a.Log.Info("no affected member declares this task", "task", target)
				return nil
			}

			g, err := closureGraph(a.Config.Tasks, filtered)
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
	cmd.Flags().StringVar(&baseRef, "base-ref", "HEAD~1", "git ref to diff against when detecting changed files")
	return cmd
}
