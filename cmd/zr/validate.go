package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and build its graph without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			if err := a.load(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitFailure)
			}
			if _, err := a.Config.BuildGraph(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(exitFailure)
			}
			if a.Config.Workspace != nil {
				if len(a.Config.Workspace.Members) == 0 {
					fmt.Fprintln(os.Stderr, "workspace declared with no member patterns")
					os.Exit(exitFailure)
				}
			}
			fmt.Println("configuration is valid")
			return nil
		},
	}
}
