package grader

import (
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/totali/internal/dictation"
	"github.com/loqalabs/totali/internal/protocol"
)

// The adapters below implement the dictation collaborators on the bus. They
// are only called from the service loop.

type busRecognition struct{ s *Service }

func (r busRecognition) Start() error {
	return r.s.pub.PublishJSON(protocol.SubjectRecognitionCtl, protocol.RecognitionControl{
		Action: protocol.ActionStart,
		Locale: r.s.cfg.Locale,
	})
}

func (r busRecognition) Stop() {
	r.s.publish(protocol.SubjectRecognitionCtl, protocol.RecognitionControl{Action: protocol.ActionStop})
}

type busSpeaker struct{ s *Service }

func (sp busSpeaker) Speak(text, locale string) {
	sp.s.publish(protocol.SubjectTTSRequest, protocol.TTSRequest{
		SessionID: sp.s.sessionID,
		Text:      text,
		Voice:     sp.s.cfg.Voice,
		Locale:    locale,
		Target:    sp.s.cfg.Target,
		TraceID:   sp.s.traceID,
	})
}

func (sp busSpeaker) CancelCurrent() {
	sp.s.publish(protocol.SubjectTTSCancel, protocol.TTSCancel{Target: sp.s.cfg.Target})
}

type busNotifier struct{ s *Service }

func (n busNotifier) Notify(level dictation.Level, message string) {
	n.send(protocol.Notification{
		ID:      uuid.NewString(),
		Level:   level.String(),
		Message: message,
	})
}

func (n busNotifier) Progress(message string) func() {
	id := uuid.NewString()
	n.send(protocol.Notification{ID: id, Level: protocol.LevelProgress, Message: message})
	return func() {
		n.send(protocol.Notification{ID: id, Level: protocol.LevelProgress, Dismiss: true})
	}
}

func (n busNotifier) send(note protocol.Notification) {
	note.SessionID = n.s.sessionID
	note.Timestamp = time.Now().UTC()
	n.s.publish(protocol.SubjectNotification, note)
}
