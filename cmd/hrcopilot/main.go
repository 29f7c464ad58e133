package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "hrcopilot",
		Short:         "HR assistant answering questions from the company's HR documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./config.yaml, ~/.config/hrcopilot/config.yaml)")

	root.AddCommand(ingestCMD(&configPath), serveCMD(&configPath), chatCMD(&configPath))

	if err := root.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
