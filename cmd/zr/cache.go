package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the fingerprint cache",
	}
	cmd.AddCommand(newCacheStatusCmd(), newCacheClearCmd())
	return cmd
}

func newCacheStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report cache entry count and total size",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			if err := a.load(); err != nil {
				return err
			}
			c, err := a.cache()
			if err != nil {
				return err
			}
			stats, err := c.Stats()
			if err != nil {
				return fmt.Errorf("cache stats: %w", err)
			}
			if a.Format == "json" {
				enc := json.NewEncoder(os.Stdout)
				return enc.Encode(stats)
			}
			fmt.Printf("entries: %d\ntotal_bytes: %d\n", stats.Entries, stats.TotalBytes)
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp()
			if err := a.load(); err != nil {
				return err
			}
			c, err := a.cache()
			if err != nil {
				return err
			}
			if err := c.ClearAll(); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			fmt.Println("cache cleared")
			return nil
		},
	}
}
