package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/totali/internal/bus"
	"github.com/loqalabs/totali/internal/config"
	"github.com/loqalabs/totali/internal/dictation"
	"github.com/loqalabs/totali/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Service turns captured audio into final transcripts. Frames are only
// accepted between a start and a stop on the recognition control subject.
// Every final frame ends the stream: the transcript (or a classified error)
// is published, followed by a StreamEnd.
type Service struct {
	cfg        config.STTConfig
	bus        *bus.Client
	recognizer Recognizer
	log        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
	active   bool
	language string

	ctx    context.Context
	cancel context.CancelFunc
	msgs   chan *nats.Msg
	subs   []*nats.Subscription
	wg     sync.WaitGroup
	ready  bool
}

type sessionState struct {
	Buffer       []byte
	Inflight     bool
	PendingFinal bool
}

func NewService(parent context.Context, cfg config.STTConfig, busClient *bus.Client, recognizer Recognizer) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg,
		bus:        busClient,
		recognizer: recognizer,
		log:        busClient.Logger().With(slog.String("component", "stt")),
		sessions:   make(map[string]*sessionState),
		language:   cfg.Language,
		ctx:        ctx,
		cancel:     cancel,
		msgs:       make(chan *nats.Msg, 256),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	// One channel for both subjects keeps control and frames in bus order.
	for _, subject := range []string{protocol.SubjectRecognitionCtl, protocol.SubjectAudioFramePrefix + ".>"} {
		sub, err := s.bus.Conn().ChanSubscribe(subject, s.msgs)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.wg.Add(1)
	go s.loop()
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

// Active reports whether recognition is currently started.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Service) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgs:
			if msg.Subject == protocol.SubjectRecognitionCtl {
				s.handleControl(msg)
			} else {
				s.handleFrame(msg)
			}
		}
	}
}

func (s *Service) handleControl(msg *nats.Msg) {
	var ctl protocol.RecognitionControl
	if err := json.Unmarshal(msg.Data, &ctl); err != nil {
		s.log.Warn("failed to decode recognition control", slogError(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch ctl.Action {
	case protocol.ActionStart:
		s.active = true
		if ctl.Locale != "" {
			s.language = ctl.Locale
		}
		s.log.Debug("recognition started", slog.String("language", s.language))
	case protocol.ActionStop:
		s.active = false
		clear(s.sessions)
		s.log.Debug("recognition stopped")
	default:
		s.log.Warn("unknown recognition control action", slog.String("action", ctl.Action))
	}
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		frame.SessionID = strings.TrimPrefix(msg.Subject, protocol.SubjectAudioFramePrefix+".")
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	state := s.sessions[frame.SessionID]
	if state == nil {
		state = &sessionState{}
		s.sessions[frame.SessionID] = state
	}
	state.Buffer = append(state.Buffer, frame.PCM...)
	s.mu.Unlock()

	if frame.Final {
		s.scheduleTranscription(frame.SessionID)
	}
}

// scheduleTranscription transcribes what was buffered for the session. While
// a transcription is in flight the next one waits, so transcripts of one
// session are published in capture order.
func (s *Service) scheduleTranscription(sessionID string) {
	s.mu.Lock()
	state := s.sessions[sessionID]
	if state == nil {
		s.mu.Unlock()
		return
	}
	if state.Inflight {
		state.PendingFinal = true
		s.mu.Unlock()
		return
	}
	in := Audio{
		PCM:        state.Buffer,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		Language:   s.language,
	}
	state.Buffer = nil
	state.Inflight = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timeout := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()

		result, err := s.recognizer.Transcribe(ctx, in)
		switch {
		case err != nil:
			if s.ctx.Err() != nil {
				return
			}
			s.log.Warn("stt transcription failed", slog.String("session_id", sessionID), slogError(err))
			s.publishError(sessionID, classify(err), err.Error())
		case strings.TrimSpace(result.Text) == "":
			s.publishError(sessionID, dictation.CodeNoSpeech, "")
		default:
			s.publishTranscript(sessionID, result)
		}
		s.publish(protocol.SubjectStreamEnd, protocol.StreamEnd{SessionID: sessionID, Timestamp: time.Now().UTC()})

		s.mu.Lock()
		var pendingFinal bool
		if state := s.sessions[sessionID]; state != nil {
			state.Inflight = false
			pendingFinal = state.PendingFinal
			state.PendingFinal = false
			if !pendingFinal && len(state.Buffer) == 0 {
				delete(s.sessions, sessionID)
			}
		}
		s.mu.Unlock()

		if pendingFinal {
			s.scheduleTranscription(sessionID)
		}
	}()
}

// classify maps a recognizer failure onto the dictation error codes.
func classify(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return dictation.CodeTimeout
	case errors.Is(err, ErrAudioFormat):
		return dictation.CodeAudioCapture
	default:
		return dictation.CodeNetwork
	}
}

func (s *Service) publishTranscript(sessionID string, result TranscriptResult) {
	s.publish(protocol.SubjectTranscriptFinal, protocol.Transcript{
		SessionID:  sessionID,
		Text:       strings.TrimSpace(result.Text),
		Timestamp:  time.Now().UTC(),
		Confidence: result.Confidence,
	})
}

func (s *Service) publishError(sessionID, code, detail string) {
	s.publish(protocol.SubjectRecognitionError, protocol.RecognitionError{
		SessionID: sessionID,
		Code:      code,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) publish(subject string, v any) {
	if err := s.bus.PublishJSON(subject, v); err != nil {
		s.log.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
