package stt

import (
	"context"
	"strings"
	"unicode/utf8"
)

type mockRecognizer struct{}

// NewMockRecognizer returns a recognizer that reads the PCM payload as UTF-8
// text, so transcripts can be injected on the audio subjects during
// development.
func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, audio Audio) (TranscriptResult, error) {
	if err := ctx.Err(); err != nil {
		return TranscriptResult{}, err
	}
	if !utf8.Valid(audio.PCM) {
		return TranscriptResult{}, ErrAudioFormat
	}
	text := strings.TrimSpace(string(audio.PCM))
	if text == "" {
		return TranscriptResult{}, nil
	}
	return TranscriptResult{Text: text, Confidence: 1}, nil
}
