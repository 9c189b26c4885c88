package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show effective configuration and memory store state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("%s status\n\n", appName)
			fmt.Printf("Config:   %s\n", configPath)
			fmt.Printf("Provider: %s (model %s)\n", cfg.Provider.APIBase, cfg.Provider.Model)
			if cfg.Provider.APIKey == "" {
				fmt.Println("          WARNING: no API key configured")
			}

			fmt.Printf("\nContext window:\n")
			fmt.Printf("  max tokens:       %d (reserved %d)\n",
				cfg.Context.MaxContextTokens, cfg.Context.ReservedTokens)
			fmt.Printf("  compaction at:    %.0f%% utilization\n", cfg.Context.CompactionThreshold*100)
			fmt.Printf("  recent window:    %d messages\n", cfg.Context.MaxRecentMessages)
			fmt.Printf("  summary chunks:   %d messages, keep top %d\n",
				cfg.Context.SummaryChunkSize, cfg.Context.MaxSummaries)

			fmt.Printf("\nMemory: ")
			if !cfg.Memory.Enabled {
				fmt.Println("disabled")
				return nil
			}
			path := cfg.MemoryDBPath()
			fmt.Printf("enabled (%s)\n", path)
			if info, err := os.Stat(path); err == nil {
				fmt.Printf("  store size:     %d bytes\n", info.Size())
			} else {
				fmt.Println("  store size:     not created yet")
			}
			fmt.Printf("  recall limit:   %d\n", cfg.Memory.RecallLimit)
			fmt.Printf("  sweep schedule: %s\n", cfg.Memory.SweepSchedule)
			return nil
		},
	}
}
