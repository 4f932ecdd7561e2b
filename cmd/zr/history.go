package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zr-build/zr/internal/history"
)

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the run history log",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			if err := a.load(); err != nil {
				return err
			}
			sd, err := a.stateDir()
			if err != nil {
				return err
			}
			records, err := history.ReadAll(sd.HistoryPath)
			if err != nil {
				return err
			}
			if a.Format == "json" {
				enc := json.NewEncoder(os.Stdout)
				return enc.Encode(records)
			}
			for _, r := range records {
				status := "ok"
				if !r.Success {
					status = "FAILED"
				}
				fmt.Printf("%s  %-8s %-24s %6dms  tasks=%d retries=%d\n",
					r.Timestamp.Format("2006-01-02T15:04:05Z"), status, r.TaskName, r.DurationMS, r.TaskCount, r.RetryCount)
			}
			return nil
		},
	}
}
