package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List declared tasks and workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			if err := a.load(); err != nil {
				return err
			}
			if a.Format == "json" {
				enc := json.NewEncoder(os.Stdout)
				return enc.Encode(struct {
					Tasks     []string `json:"tasks"`
					Workflows []string `json:"workflows"`
				}{Tasks: a.Config.TaskNames(), Workflows: a.Config.WorkflowNames()})
			}
			fmt.Println("tasks:")
			for _, t := range a.Config.TaskNames() {
				fmt.Println(" ", t)
			}
			fmt.Println("workflows:")
			for _, w := range a.Config.WorkflowNames() {
				fmt.Println(" ", w)
			}
			return nil
		},
	}
}
