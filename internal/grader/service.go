// Package grader runs the dictation session on the bus. Transcripts,
// recognition events and user controls are decoded by NATS callbacks and
// handled one at a time by a single goroutine that owns the session.
package grader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/loqalabs/totali/internal/bus"
	"github.com/loqalabs/totali/internal/config"
	"github.com/loqalabs/totali/internal/dictation"
	"github.com/loqalabs/totali/internal/eventstore"
	"github.com/loqalabs/totali/internal/grading"
	"github.com/loqalabs/totali/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	msgInvalidScale  = "Veuillez entrer un barème initial valide (nombre positif)."
	msgScaleLocked   = "Le barème ne peut pas changer pendant la dictée."
	msgNothingToPlay = "Aucun total à réécouter."
	msgUnknownAction = "Action inconnue : %s"
)

// Recorder receives the audit timeline. *eventstore.Store implements it.
type Recorder interface {
	AppendSession(ctx context.Context, sess eventstore.Session) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

type publisher interface {
	PublishJSON(subject string, v any) error
}

// Snapshot is the published view of the current copy.
type Snapshot struct {
	SessionID string `json:"session_id,omitempty"`
	dictation.Snapshot
}

type Service struct {
	cfg    config.GradingConfig
	bus    *bus.Client
	pub    publisher
	rec    Recorder
	logger *slog.Logger
	inst   instruments

	session   *dictation.Session
	sessionID string
	traceID   string
	snapshot  atomic.Pointer[Snapshot]

	msgs   chan *nats.Msg
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(parent context.Context, cfg config.GradingConfig, busClient *bus.Client, rec Recorder, logger *slog.Logger) *Service {
	s := newService(parent, cfg, busClient, rec, logger)
	s.bus = busClient
	return s
}

func newService(parent context.Context, cfg config.GradingConfig, pub publisher, rec Recorder, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	queue := cfg.QueueSize
	if queue <= 0 {
		queue = 64
	}
	s := &Service{
		cfg:    cfg,
		pub:    pub,
		rec:    rec,
		logger: logger.With(slog.String("component", "grader")),
		inst:   newInstruments(logger),
		msgs:   make(chan *nats.Msg, queue),
		ctx:    ctx,
		cancel: cancel,
	}
	s.session = dictation.New(dictation.Options{
		Scale:       grading.Scale(cfg.Scale),
		Conversion:  grading.Scale(cfg.ConversionScale),
		Locale:      cfg.Locale,
		Conjunction: cfg.Conjunction,
		OKBehavior:  dictation.OKBehavior(cfg.OKBehavior),
		Logger:      s.logger,
	}, busRecognition{s}, busSpeaker{s}, busNotifier{s})
	s.storeSnapshot()
	return s
}

var subjects = []string{
	protocol.SubjectSessionControl,
	protocol.SubjectTranscriptFinal,
	protocol.SubjectRecognitionError,
	protocol.SubjectStreamEnd,
}

func (s *Service) Start() error {
	if s.bus == nil {
		return errors.New("grader: no bus client")
	}
	for _, subject := range subjects {
		sub, err := s.bus.Conn().ChanSubscribe(subject, s.msgs)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("grader ready",
		slog.Float64("scale", s.cfg.Scale),
		slog.Float64("conversion_scale", s.cfg.ConversionScale),
		slog.String("ok_behavior", s.cfg.OKBehavior))
	return nil
}

// Close stops the loop. A session still listening is stopped first so its
// pending phrase is counted and recognition is released.
func (s *Service) Close() {
	s.unsubscribe()
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return len(s.subs) == len(subjects) }

// Snapshot returns the latest published view. Safe for concurrent use.
func (s *Service) Snapshot() Snapshot {
	return *s.snapshot.Load()
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
			if s.session.State() == dictation.StateListening {
				s.record(context.Background(), s.session.Stop())
				s.storeSnapshot()
			}
			return
		case msg := <-s.msgs:
			s.dispatch(msg)
		}
	}
}

func (s *Service) dispatch(msg *nats.Msg) {
	switch msg.Subject {
	case protocol.SubjectTranscriptFinal:
		var tr protocol.Transcript
		if !s.decode(msg, &tr) {
			return
		}
		s.handleTranscript(tr)
	case protocol.SubjectRecognitionError:
		var re protocol.RecognitionError
		if !s.decode(msg, &re) {
			return
		}
		s.handleRecognitionError(re)
	case protocol.SubjectStreamEnd:
		s.handleStreamEnd()
	case protocol.SubjectSessionControl:
		var ctl protocol.SessionControl
		if !s.decode(msg, &ctl) {
			return
		}
		s.handleControl(ctl)
	default:
		return
	}
	s.publishSnapshot()
}

func (s *Service) decode(msg *nats.Msg, v any) bool {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		s.logger.Warn("failed to decode message", slog.String("subject", msg.Subject), slogError(err))
		return false
	}
	return true
}

func (s *Service) handleTranscript(tr protocol.Transcript) {
	ctx, span := s.inst.tracer.Start(s.ctx, "grader.utterance",
		trace.WithAttributes(attribute.String("session.id", s.sessionID)))
	defer span.End()

	out := s.session.HandleUtterance(tr.Text)
	span.SetAttributes(
		attribute.Bool("ignored", out.Ignored),
		attribute.String("command", out.Command.String()),
		attribute.Int("points.accepted", len(out.Accepted)),
		attribute.Int("phrases.rejected", len(out.Rejected)),
	)
	if out.Ignored {
		s.logger.Debug("transcript ignored", slog.String("state", out.From.String()))
		return
	}
	s.record(ctx, out)
}

func (s *Service) handleRecognitionError(re protocol.RecognitionError) {
	s.inst.recognitionErrors.Add(s.ctx, 1, metricAttrs(attribute.String("code", re.Code)))
	out := s.session.HandleRecognitionError(re.Code)
	if out.Ignored {
		return
	}
	if out.To != out.From {
		s.appendEvent(s.ctx, eventstore.TypeRecognitionError, map[string]string{"code": re.Code, "detail": re.Detail})
	}
	s.record(s.ctx, out)
}

// handleStreamEnd restarts recognition when the recognizer ended its stream
// while the copy is still being dictated.
func (s *Service) handleStreamEnd() {
	if !s.session.HandleEndOfStream() {
		return
	}
	if err := (busRecognition{s}).Start(); err != nil {
		s.logger.Warn("failed to restart recognition", slogError(err))
		s.record(s.ctx, s.session.HandleRecognitionError(dictation.CodeNetwork))
	}
}

func (s *Service) handleControl(ctl protocol.SessionControl) {
	switch ctl.Action {
	case protocol.ControlStart:
		s.start()
	case protocol.ControlStop:
		s.record(s.ctx, s.session.Stop())
	case protocol.ControlNewCopy:
		if s.session.NewCopy() {
			s.appendEvent(s.ctx, eventstore.TypeNewCopy, nil)
		}
	case protocol.ControlReplay:
		if !s.session.Replay() {
			busNotifier{s}.Notify(dictation.LevelWarning, msgNothingToPlay)
		}
	case protocol.ControlConfigure:
		err := s.session.Configure(grading.Scale(ctl.Scale), grading.Scale(ctl.Conversion))
		switch {
		case errors.Is(err, dictation.ErrSessionActive):
			busNotifier{s}.Notify(dictation.LevelError, msgScaleLocked)
		case err != nil:
			busNotifier{s}.Notify(dictation.LevelError, msgInvalidScale)
		default:
			s.logger.Info("scales configured", slog.Float64("scale", ctl.Scale), slog.Float64("conversion", ctl.Conversion))
		}
	default:
		s.logger.Warn("unknown session control action", slog.String("action", ctl.Action))
		busNotifier{s}.Notify(dictation.LevelWarning, fmt.Sprintf(msgUnknownAction, ctl.Action))
	}
}

func (s *Service) start() {
	previousID, previousTrace := s.sessionID, s.traceID
	s.sessionID = uuid.NewString()
	ctx, span := s.inst.tracer.Start(s.ctx, "grader.start", trace.WithAttributes(attribute.String("session.id", s.sessionID)))
	defer span.End()
	s.traceID = span.SpanContext().TraceID().String()

	if err := s.session.Start(); err != nil {
		s.logger.Warn("dictation start refused", slogError(err))
		span.RecordError(err)
		s.sessionID, s.traceID = previousID, previousTrace
		return
	}
	snap := s.session.Snapshot()
	if err := s.rec.AppendSession(ctx, eventstore.Session{
		ID:         s.sessionID,
		Scale:      float64(snap.Scale),
		Conversion: float64(snap.Conversion),
	}); err != nil {
		s.logger.Warn("failed to record session", slogError(err))
	}
	s.appendEvent(ctx, eventstore.TypeStarted, nil)
}

func (s *Service) storeSnapshot() Snapshot {
	snap := Snapshot{SessionID: s.sessionID, Snapshot: s.session.Snapshot()}
	s.snapshot.Store(&snap)
	return snap
}

func (s *Service) publishSnapshot() {
	s.publish(protocol.SubjectSessionSnapshot, s.storeSnapshot())
}

func (s *Service) publish(subject string, v any) {
	if err := s.pub.PublishJSON(subject, v); err != nil {
		s.logger.Warn("failed to publish", slog.String("subject", subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
