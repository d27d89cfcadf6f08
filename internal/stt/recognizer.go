package stt

import (
	"context"
	"errors"
)

// ErrAudioFormat is returned by recognizers when the captured audio cannot be
// decoded. It is reported to the dictation side as an audio-capture failure.
var ErrAudioFormat = errors.New("unsupported audio payload")

// Audio is one captured utterance.
type Audio struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Language   string
}

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Transcribe(ctx context.Context, audio Audio) (TranscriptResult, error)
}
