package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/loqalabs/totali/internal/grading"
	"github.com/loqalabs/totali/internal/spoken"
	"github.com/spf13/cobra"
)

var parseCmd = &cobra.Command{
	Use:   "parse phrase...",
	Short: "Parse spoken grades",
	Long:  `Parse prints the normalized form and numeric value of each phrase, e.g. totali parse "douze et demi" "trois virgule cinq".`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if n := printParsed(cmd.OutOrStdout(), args); n > 0 {
			return fmt.Errorf("%d phrase(s) not recognized", n)
		}
		return nil
	},
}

// printParsed writes one line per phrase and returns how many were rejected.
func printParsed(w io.Writer, phrases []string) int {
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	rejected := 0
	for _, phrase := range phrases {
		v, parsed := spoken.ParsePhrase(phrase)
		if parsed {
			fmt.Fprintf(w, "%q -> %s\n", phrase, ok.Sprint(grading.FormatNumber(v)))
			continue
		}
		rejected++
		line := fmt.Sprintf("%q -> %s (normalized %q)", phrase, bad.Sprint("not recognized"), spoken.Normalize(phrase))
		if hint, found := spoken.Suggest(phrase); found {
			line += fmt.Sprintf(", did you mean %q?", hint)
		}
		fmt.Fprintln(w, line)
	}
	return rejected
}
