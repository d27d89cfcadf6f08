package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/loqalabs/totali/internal/grading"
	"github.com/loqalabs/totali/internal/spoken"
	"github.com/spf13/cobra"
)

var convertCmd = &cobra.Command{
	Use:   "convert total source target",
	Short: "Convert a total from one scale to another",
	Long:  `Convert rescales a total and rounds it to one decimal, e.g. totali convert "douze et demi" 15 20.`,
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := convertLine(args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
		return nil
	},
}

func convertLine(totalText, sourceText, targetText string) (string, error) {
	total, ok := spoken.ParsePhrase(totalText)
	if !ok {
		return "", fmt.Errorf("total %q is not a number", totalText)
	}
	source, err := grading.ParseScale(sourceText)
	if err != nil {
		return "", fmt.Errorf("source scale: %w", err)
	}
	target, err := grading.ParseScale(targetText)
	if err != nil {
		return "", fmt.Errorf("target scale: %w", err)
	}
	r := grading.Compute([]float64{total}, source, target)
	return color.New(color.FgCyan).Sprint(r.Announcement()), nil
}
