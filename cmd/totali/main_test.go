package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/loqalabs/totali/internal/dictation"
)

func init() {
	color.NoColor = true
}

func TestReplayTranscript(t *testing.T) {
	transcript := `# copie 12
deux plus trois et demi plus
quatre plus xyz
ok
`
	var out bytes.Buffer
	snap, err := replay(strings.NewReader(transcript), &out, replayOptions{Scale: 15, Conversion: 20})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if snap.Total != 9.5 || snap.State != "finalized" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	text := out.String()
	for _, want := range []string{
		"speak: Total : 9.5 sur 15. Soit 12.7 sur 20.",
		`[warning] Point non reconnu : "xyz"`,
		"total: 9.5",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestReplayStopsAtEndOfInput(t *testing.T) {
	var out bytes.Buffer
	snap, err := replay(strings.NewReader("dix plus onze"), &out, replayOptions{Scale: 20, OKBehavior: dictation.FinalizeAndStop})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if snap.Total != 21 || snap.State != "finalized" {
		t.Fatalf("pending phrase must be counted on stop, got %+v", snap)
	}
}

func TestReplayIgnoresLinesAfterFinish(t *testing.T) {
	var out bytes.Buffer
	snap, err := replay(strings.NewReader("douze\nfini\ntreize\n"), &out, replayOptions{Scale: 20})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(snap.Points) != 1 || snap.Points[0] != 12 {
		t.Fatalf("unexpected points %v", snap.Points)
	}
	if !strings.Contains(out.String(), "(ignored, not listening) treize") {
		t.Fatalf("expected ignored line:\n%s", out.String())
	}
}

func TestReplayRejectsInvalidScale(t *testing.T) {
	var out bytes.Buffer
	if _, err := replay(strings.NewReader("douze"), &out, replayOptions{Scale: 0}); err == nil {
		t.Fatal("expected invalid scale error")
	}
}

func TestPrintParsed(t *testing.T) {
	var out bytes.Buffer
	rejected := printParsed(&out, []string{"douze et demi", "12,5", "troi"})
	if rejected != 1 {
		t.Fatalf("rejected = %d", rejected)
	}
	text := out.String()
	for _, want := range []string{`"douze et demi" -> 12.5`, `"12,5" -> 12.5`, `did you mean "trois"?`} {
		if !strings.Contains(text, want) {
			t.Fatalf("output missing %q:\n%s", want, text)
		}
	}
}

func TestConvertLine(t *testing.T) {
	line, err := convertLine("douze et demi", "15", "20")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if line != "Total : 12.5 sur 15. Soit 16.7 sur 20." {
		t.Fatalf("unexpected %q", line)
	}
	if _, err := convertLine("beaucoup", "15", "20"); err == nil {
		t.Fatal("expected error for non-numeric total")
	}
	if _, err := convertLine("3", "0", "20"); err == nil {
		t.Fatal("expected error for invalid scale")
	}
}
