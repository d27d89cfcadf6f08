package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/totali/internal/bus"
	"github.com/loqalabs/totali/internal/config"
	"github.com/loqalabs/totali/internal/protocol"
	"github.com/nats-io/nats.go"
)

const defaultTarget = "default"

var errInterrupted = errors.New("utterance interrupted")

// Service synthesizes speech requests. At most one utterance plays per
// target: a new request, or a cancel for the target, interrupts the current
// one.
type Service struct {
	cfg    config.TTSConfig
	bus    *bus.Client
	synth  Synthesizer
	msgs   chan *nats.Msg
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.Mutex
	current map[string]*utterance
}

type utterance struct {
	req    protocol.TTSRequest
	cancel context.CancelCauseFunc
}

func NewService(parent context.Context, cfg config.TTSConfig, busClient *bus.Client, synth Synthesizer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		synth:   synth,
		msgs:    make(chan *nats.Msg, 64),
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "tts-service")),
		current: make(map[string]*utterance),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	// Cancels and requests share a channel so a cancel is never overtaken by
	// the request that follows it.
	for _, subject := range []string{protocol.SubjectTTSCancel, protocol.SubjectTTSRequest} {
		sub, err := s.bus.Conn().ChanSubscribe(subject, s.msgs)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || len(s.subs) > 0 }

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
			switch msg.Subject {
			case protocol.SubjectTTSCancel:
				s.handleCancel(msg)
			case protocol.SubjectTTSRequest:
				s.handleRequest(msg)
			}
		}
	}
}

func (s *Service) handleCancel(msg *nats.Msg) {
	var req protocol.TTSCancel
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts cancel", slogError(err))
		return
	}
	s.interrupt(targetOf(req.Target))
}

func (s *Service) interrupt(target string) {
	s.mu.Lock()
	u := s.current[target]
	delete(s.current, target)
	s.mu.Unlock()
	if u != nil {
		u.cancel(errInterrupted)
	}
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.TTSRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode tts request", slogError(err))
		return
	}
	if req.Voice == "" {
		req.Voice = s.cfg.Voice
	}
	target := targetOf(req.Target)
	s.interrupt(target)

	timeout := time.Duration(s.cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	cctx, cancel := context.WithCancelCause(s.ctx)
	ctx, stop := context.WithTimeout(cctx, timeout)
	u := &utterance{req: req, cancel: cancel}

	s.mu.Lock()
	s.current[target] = u
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer stop()
		defer cancel(nil)
		s.speak(ctx, u)

		s.mu.Lock()
		if s.current[target] == u {
			delete(s.current, target)
		}
		s.mu.Unlock()
	}()
}

func (s *Service) speak(ctx context.Context, u *utterance) {
	req := u.req
	chunks, errs := s.synth.Synthesize(ctx, SynthRequest{
		SessionID: req.SessionID,
		Text:      req.Text,
		Voice:     req.Voice,
		Locale:    req.Locale,
	})
	sequence := 0
	completed := false
loop:
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			chunk.Sequence = sequence
			sequence++
			s.publishChunk(req, chunk)
			completed = completed || chunk.Final
		case err, ok := <-errs:
			if ok && err != nil && ctx.Err() == nil {
				s.logger.Warn("tts synthesis error", slogError(err))
			}
			errs = nil
		case <-ctx.Done():
			break loop
		}
	}

	switch {
	case completed || ctx.Err() == nil:
	case errors.Is(context.Cause(ctx), errInterrupted):
		s.logger.Debug("tts utterance interrupted", slog.String("target", targetOf(req.Target)))
		s.publishStatus(req, false, true)
	case s.ctx.Err() == nil:
		s.logger.Warn("tts synthesis cancelled", slogError(ctx.Err()))
	}
}

func (s *Service) publishChunk(req protocol.TTSRequest, chunk SynthChunk) {
	packet := protocol.AudioChunk{
		SessionID:  req.SessionID,
		Target:     req.Target,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Sequence:   chunk.Sequence,
		PCM:        chunk.PCM,
		Final:      chunk.Final,
	}
	if err := s.bus.PublishJSON(protocol.SubjectTTSAudio, packet); err != nil {
		s.logger.Warn("failed to publish tts chunk", slogError(err))
	}
	if chunk.Final {
		s.publishStatus(req, true, false)
	}
}

func (s *Service) publishStatus(req protocol.TTSRequest, completed, interrupted bool) {
	status := protocol.TTSStatus{
		SessionID:   req.SessionID,
		Target:      req.Target,
		Completed:   completed,
		Interrupted: interrupted,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectTTSDone, status); err != nil {
		s.logger.Warn("failed to publish tts status", slogError(err))
	}
}

func targetOf(target string) string {
	if target == "" {
		return defaultTarget
	}
	return target
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
