// Package dictation implements the oral grading session: it consumes
// recognized utterances one at a time, accumulates dictated points, carries an
// unfinished phrase across utterance boundaries and announces totals.
//
// A Session is not safe for concurrent use and must not be re-entered from its
// collaborators. Callers that receive events from several goroutines must
// serialize them through a single writer (see internal/grader).
package dictation

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/loqalabs/totali/internal/grading"
	"github.com/loqalabs/totali/internal/spoken"
)

var (
	// ErrInvalidScale is returned when the grading or conversion scale is not
	// a positive number.
	ErrInvalidScale = grading.ErrInvalidScale
	// ErrSessionActive is returned when scales are changed while listening.
	ErrSessionActive = errors.New("scales cannot change while a session is listening")
	// ErrAlreadyListening is returned by Start on a listening session.
	ErrAlreadyListening = errors.New("session is already listening")
)

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateListening
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// OKBehavior selects what "ok" / "okay" do after announcing the total.
type OKBehavior string

const (
	FinalizeAndStop     OKBehavior = "finalize-and-stop"
	FinalizeAndContinue OKBehavior = "finalize-and-continue"
)

// Valid reports whether b is a known behavior.
func (b OKBehavior) Valid() bool {
	return b == FinalizeAndStop || b == FinalizeAndContinue
}

// Command is the kind of spoken command an utterance carried.
type Command int

const (
	CommandNone Command = iota
	CommandFinalize
	CommandFinish
)

func (c Command) String() string {
	switch c {
	case CommandFinalize:
		return "finalize"
	case CommandFinish:
		return "finish"
	default:
		return "none"
	}
}

// DefaultLocale is the locale announcements are spoken in.
const DefaultLocale = "fr-FR"

// Options configures a Session.
type Options struct {
	Scale       grading.Scale
	Conversion  grading.Scale
	Locale      string
	Conjunction string
	OKBehavior  OKBehavior
	Logger      *slog.Logger
}

// Outcome describes what one event did to the session.
type Outcome struct {
	// Ignored is set when the event arrived outside of the listening state.
	Ignored  bool
	Command  Command
	Accepted []float64
	Rejected []string
	// Result is set when a total was announced.
	Result       *grading.Result
	Announcement string
	From, To     State
}

// Session is the dictation state machine for one copy at a time.
type Session struct {
	recognition Recognition
	speaker     Speaker
	notifier    Notifier
	splitter    spoken.Splitter
	locale      string
	okBehavior  OKBehavior
	log         *slog.Logger

	// scales as currently configured; copied into the session on Start
	scale      grading.Scale
	conversion grading.Scale

	state          State
	points         []float64
	pending        string
	activeScale    grading.Scale
	activeTarget   grading.Scale
	totalRequested bool
	dismiss        func()
}

// New builds an idle Session.
func New(opts Options, recognition Recognition, speaker Speaker, notifier Notifier) *Session {
	if opts.Locale == "" {
		opts.Locale = DefaultLocale
	}
	if !opts.OKBehavior.Valid() {
		opts.OKBehavior = FinalizeAndStop
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		recognition: recognition,
		speaker:     speaker,
		notifier:    notifier,
		splitter:    spoken.NewSplitter(opts.Conjunction),
		locale:      opts.Locale,
		okBehavior:  opts.OKBehavior,
		log:         opts.Logger,
		scale:       opts.Scale,
		conversion:  opts.Conversion,
	}
}

// Configure replaces the grading and conversion scales used by the next
// Start. A zero conversion disables conversion. On error the previous values
// are kept.
func (s *Session) Configure(scale, conversion grading.Scale) error {
	if s.state == StateListening {
		return ErrSessionActive
	}
	if err := scale.Validate(); err != nil {
		return err
	}
	if conversion != 0 {
		if err := conversion.Validate(); err != nil {
			return err
		}
	}
	s.scale, s.conversion = scale, conversion
	return nil
}

// Start clears the previous copy and begins listening. The scales in effect
// now stay fixed until the session ends.
func (s *Session) Start() error {
	if s.state == StateListening {
		return ErrAlreadyListening
	}
	if err := s.scale.Validate(); err != nil {
		s.notifier.Notify(LevelError, msgInvalidScale)
		return err
	}

	s.reset()
	s.activeScale, s.activeTarget = s.scale, s.conversion

	if err := s.recognition.Start(); err != nil {
		s.state = StateIdle
		s.notifier.Notify(LevelError, msgStartFailed)
		return fmt.Errorf("start recognition: %w", err)
	}
	s.state = StateListening
	s.dismiss = s.notifier.Progress(msgListening)
	s.log.Info("dictation started",
		slog.Float64("scale", float64(s.activeScale)),
		slog.Float64("conversion", float64(s.activeTarget)))
	return nil
}

// HandleUtterance processes one final recognized utterance.
func (s *Session) HandleUtterance(text string) Outcome {
	out := Outcome{From: s.state, To: s.state}
	if s.state != StateListening {
		out.Ignored = true
		return out
	}
	s.dismissProgress()

	utterance := strings.ToLower(strings.TrimSpace(text))
	command := strings.TrimSpace(strings.TrimSuffix(utterance, "."))
	s.log.Debug("utterance received", slog.String("text", utterance), slog.String("pending", s.pending))

	switch command {
	case "ok", "okay":
		s.finalize(&out, s.okBehavior)
	case "compte":
		s.finalize(&out, FinalizeAndContinue)
	case "fini":
		out.Command = CommandFinish
		s.flush(&out)
		s.enterFinalized()
		s.notifier.Notify(LevelSuccess, msgFinished)
	default:
		split := s.splitter.Split(s.pending, utterance)
		for _, phrase := range split.Finalized {
			s.accept(phrase, &out)
		}
		s.pending = split.Pending
	}

	out.To = s.state
	return out
}

// Stop ends listening at the user's request. Calling Stop on a session that
// is not listening does nothing.
func (s *Session) Stop() Outcome {
	out := Outcome{From: s.state, To: s.state}
	if s.state != StateListening {
		out.Ignored = true
		return out
	}
	s.flush(&out)
	s.enterFinalized()
	s.notifier.Notify(LevelSuccess, msgStopped)
	out.To = s.state
	return out
}

// NewCopy clears everything and returns to idle, stopping recognition and any
// announcement in progress. It reports false when there was nothing to clear.
func (s *Session) NewCopy() bool {
	if s.state == StateIdle && len(s.points) == 0 && s.pending == "" && !s.totalRequested {
		return false
	}
	if s.state == StateListening {
		s.recognition.Stop()
	}
	s.speaker.CancelCurrent()
	s.reset()
	s.state = StateIdle
	s.notifier.Notify(LevelSuccess, msgNewCopy)
	return true
}

// HandleRecognitionError reacts to an error reported by the recognition
// collaborator. Transient codes are ignored; any other code ends the session.
func (s *Session) HandleRecognitionError(code string) Outcome {
	out := Outcome{From: s.state, To: s.state}
	if s.state != StateListening {
		out.Ignored = true
		return out
	}
	if Transient(code) {
		s.log.Debug("transient recognition error", slog.String("code", code))
		return out
	}
	s.dismissProgress()
	s.notifier.Notify(LevelError, fatalMessage(code))
	s.flush(&out)
	s.enterFinalized()
	s.log.Warn("recognition failed, dictation finalized", slog.String("code", code))
	out.To = s.state
	return out
}

// HandleEndOfStream is called when the recognizer ends its stream on its
// own. The session keeps listening; the result reports whether the
// collaborator should be restarted by its owner.
func (s *Session) HandleEndOfStream() bool {
	return s.state == StateListening
}

// Replay speaks the current result again. It reports false when no total has
// been requested in this session.
func (s *Session) Replay() bool {
	r, ok := s.Result()
	if !ok {
		return false
	}
	s.speak(r.Announcement())
	return true
}

// State returns the lifecycle state.
func (s *Session) State() State { return s.state }

// Points returns a copy of the accepted points in dictation order.
func (s *Session) Points() []float64 { return append([]float64(nil), s.points...) }

// Pending returns the phrase waiting to be completed, if any.
func (s *Session) Pending() string { return s.pending }

// Total is the running sum of accepted points.
func (s *Session) Total() float64 { return grading.RoundTotal(grading.Sum(s.points)) }

// Result returns the total against the session scales once a finalize
// command was issued. It is recomputed from the points on every call.
func (s *Session) Result() (grading.Result, bool) {
	if !s.totalRequested || len(s.points) == 0 {
		return grading.Result{}, false
	}
	return grading.Compute(s.points, s.activeScale, s.activeTarget), true
}

func (s *Session) finalize(out *Outcome, behavior OKBehavior) {
	out.Command = CommandFinalize
	s.flush(out)

	if len(s.points) == 0 {
		s.notifier.Notify(LevelError, grading.MsgNoPointsError)
		out.Announcement = grading.MsgNoPoints
		s.speak(out.Announcement)
	} else {
		s.totalRequested = true
		r := grading.Compute(s.points, s.activeScale, s.activeTarget)
		out.Result = &r
		out.Announcement = r.Announcement()
		s.speak(out.Announcement)
		s.notifier.Notify(LevelSuccess, msgTotalDone)
	}

	if behavior == FinalizeAndStop {
		s.enterFinalized()
	}
}

func (s *Session) flush(out *Outcome) {
	if s.pending == "" {
		return
	}
	phrase := s.pending
	s.pending = ""
	s.accept(phrase, out)
}

func (s *Session) accept(phrase string, out *Outcome) {
	v, ok := spoken.ParsePhrase(phrase)
	if !ok {
		msg := fmt.Sprintf(msgUnrecognized, phrase)
		if hint, ok := spoken.Suggest(phrase); ok {
			msg += fmt.Sprintf(msgDidYouMean, hint)
		}
		s.notifier.Notify(LevelWarning, msg)
		out.Rejected = append(out.Rejected, phrase)
		s.log.Debug("phrase rejected", slog.String("phrase", phrase))
		return
	}
	s.points = append(s.points, v)
	out.Accepted = append(out.Accepted, v)
}

func (s *Session) speak(text string) {
	s.speaker.CancelCurrent()
	s.speaker.Speak(text, s.locale)
}

func (s *Session) enterFinalized() {
	s.state = StateFinalized
	s.pending = ""
	s.dismissProgress()
	s.recognition.Stop()
}

func (s *Session) dismissProgress() {
	if s.dismiss != nil {
		s.dismiss()
		s.dismiss = nil
	}
}

func (s *Session) reset() {
	s.dismissProgress()
	s.points = nil
	s.pending = ""
	s.totalRequested = false
}
