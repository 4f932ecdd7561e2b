package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zr-build/zr/internal/watcher"
	"github.com/zr-build/zr/internal/zrerrors"
)

func newWatchCmd() *cobra.Command {
	var poll bool
	var pollIntervalMS int

	cmd := &cobra.Command{
		Use:   "watch <task>",
		Short: "Run a task, then re-run it whenever its declared inputs change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			if err := a.load(); err != nil {
				return err
			}
			target := args[0]
			task, ok := a.Config.Tasks[target]
			if !ok {
				return zrerrors.New(zrerrors.TaskNotFound, "cli", fmt.Sprintf("unknown task %q", target), nil)
			}
			if len(task.Inputs) == 0 {
				return fmt.Errorf("task %q declares no inputs to watch", target)
			}

			mode := watcher.ModeNative
			if poll {
				mode = watcher.ModePolling
			}
			w, err := watcher.Init(task.Inputs, mode, time.Duration(pollIntervalMS)*time.Millisecond)
			if err != nil {
				return zrerrors.New(zrerrors.WatcherFailure, "cli", "init watcher", err)
			}
			defer w.Close()

			for {
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

				a.Log.Info("watching for changes", "task", target, "inputs", task.Inputs)
				ev, err := w.WaitForChange(cmd.Context())
				if err != nil {
					return fmt.Errorf("watch: %w", err)
				}
				a.Log.Info("change detected, re-running", "task", target, "path", ev.Path)
			}
		},
	}
	cmd.Flags().BoolVar(&poll, "poll", false, "use polling instead of native OS file watching")
	cmd.Flags().IntVar(&pollIntervalMS, "poll-interval-ms", 500, "polling interval in milliseconds (ignored unless --poll)")
	return cmd
}
