package tts

import (
	"context"
	"time"
)

// mockSynth "speaks" by echoing the text bytes as PCM after a delay that
// stands in for the duration of the utterance.
type mockSynth struct {
	sampleRate int
	channels   int
	delay      time.Duration
}

func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels, delay: 50 * time.Millisecond}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(m.delay):
		}
		chunks <- SynthChunk{
			SessionID:  req.SessionID,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        []byte(req.Text),
			Final:      true,
		}
	}()
	return chunks, errs
}
