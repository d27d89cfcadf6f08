package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

var rootCmd = &cobra.Command{
	Use:          "totali",
	Short:        "Offline tools for the oral grading runtime",
	Long:         `totali parses spoken French grades, converts totals between scales and replays dictation transcripts through a grading session.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		switch flag, _ := cmd.Flags().GetString("color"); flag {
		case "on":
			color.NoColor = false
		case "off":
			color.NoColor = true
		}
	},
}

func main() {
	rootCmd.Version = version

	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
