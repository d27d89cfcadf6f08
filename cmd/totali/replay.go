package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/loqalabs/totali/internal/dictation"
	"github.com/loqalabs/totali/internal/grading"
	"github.com/spf13/cobra"
)

var replayCmd = &cobra.Command{
	Use:   "replay [file]",
	Short: "Run a transcript through a grading session",
	Long: `Replay feeds each line of a transcript (or stdin when no file or "-" is
given) to a dictation session as one recognized utterance, printing what the
runtime would announce and notify. Empty lines and lines starting with '#'
are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().String("scale", "20", "grading scale")
	replayCmd.Flags().String("conversion", "", "conversion scale (empty for none)")
	replayCmd.Flags().String("conjunction", "plus", "word separating dictated points")
	replayCmd.Flags().String("ok-behavior", string(dictation.FinalizeAndStop), "what \"ok\" does after the total (finalize-and-stop|finalize-and-continue)")
	replayCmd.Flags().Bool("verbose", false, "log session internals")
}

type replayOptions struct {
	Scale       grading.Scale
	Conversion  grading.Scale
	Conjunction string
	OKBehavior  dictation.OKBehavior
	Logger      *slog.Logger
}

func runReplay(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	scaleText, _ := flags.GetString("scale")
	conversionText, _ := flags.GetString("conversion")
	conjunction, _ := flags.GetString("conjunction")
	okBehavior, _ := flags.GetString("ok-behavior")
	verbose, _ := flags.GetBool("verbose")

	scale, err := grading.ParseScale(scaleText)
	if err != nil {
		return err
	}
	behavior := dictation.OKBehavior(okBehavior)
	if !behavior.Valid() {
		return fmt.Errorf("unknown ok behavior %q", okBehavior)
	}

	in := cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	opts := replayOptions{
		Scale:       scale,
		Conversion:  grading.ParseConversion(conversionText),
		Conjunction: conjunction,
		OKBehavior:  behavior,
	}
	if verbose {
		opts.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	_, err = replay(in, cmd.OutOrStdout(), opts)
	return err
}

// replay runs the transcript and returns the final snapshot. A session still
// listening at the end of the input is stopped.
func replay(in io.Reader, out io.Writer, opts replayOptions) (dictation.Snapshot, error) {
	con := &console{w: out}
	session := dictation.New(dictation.Options{
		Scale:       opts.Scale,
		Conversion:  opts.Conversion,
		Conjunction: opts.Conjunction,
		OKBehavior:  opts.OKBehavior,
		Logger:      opts.Logger,
	}, con, con, con)

	if err := session.Start(); err != nil {
		return session.Snapshot(), err
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if session.State() != dictation.StateListening {
			con.line(color.New(color.Faint), "(ignored, not listening) "+line)
			continue
		}
		con.line(color.New(color.Bold), "> "+line)
		session.HandleUtterance(line)
	}
	if err := scanner.Err(); err != nil {
		return session.Snapshot(), fmt.Errorf("read transcript: %w", err)
	}
	session.Stop()

	snap := session.Snapshot()
	points := make([]string, len(snap.Points))
	for i, p := range snap.Points {
		points[i] = grading.FormatNumber(p)
	}
	fmt.Fprintf(out, "points: [%s]\ntotal: %s\n", strings.Join(points, ", "), grading.FormatNumber(snap.Total))
	return snap, nil
}

// console implements the dictation collaborators on a terminal.
type console struct {
	w io.Writer
}

func (c *console) Start() error { return nil }
func (c *console) Stop()        {}

func (c *console) Speak(text, _ string) {
	c.line(color.New(color.FgCyan), "speak: "+text)
}

func (c *console) CancelCurrent() {}

func (c *console) Notify(level dictation.Level, message string) {
	var style *color.Color
	switch level {
	case dictation.LevelSuccess:
		style = color.New(color.FgGreen)
	case dictation.LevelWarning:
		style = color.New(color.FgYellow)
	default:
		style = color.New(color.FgRed)
	}
	c.line(style, fmt.Sprintf("[%s] %s", level, message))
}

func (c *console) Progress(string) func() { return func() {} }

func (c *console) line(style *color.Color, text string) {
	fmt.Fprintln(c.w, style.Sprint(text))
}
