package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:          "phantomtrail",
	Short:        "Tracking detection engine: classify, score and explain web tracking",
	SilenceUsage: true,
	Version:      version + " (" + commit + ")",
}

func init() {
	rootCmd.AddCommand(serveCmd, healthcheckCmd, classifyCmd, scoreCmd, analyzeCmd, demoCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
