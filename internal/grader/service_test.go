package grader

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/loqalabs/totali/internal/bus"
	"github.com/loqalabs/totali/internal/config"
	"github.com/loqalabs/totali/internal/dictation"
	"github.com/loqalabs/totali/internal/eventstore"
	"github.com/loqalabs/totali/internal/natsserver"
	"github.com/loqalabs/totali/internal/protocol"
	"github.com/loqalabs/totali/internal/stt"
	"github.com/nats-io/nats.go"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (f *fakePublisher) PublishJSON(subject string, v any) error {
	if f.err != nil {
		return f.err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.msgs = append(f.msgs, published{subject, data})
	return nil
}

func (f *fakePublisher) on(subject string) []published {
	var out []published
	for _, m := range f.msgs {
		if m.subject == subject {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakePublisher) reset() { f.msgs = nil }

type fakeRecorder struct {
	sessions []eventstore.Session
	events   []eventstore.Event
}

func (f *fakeRecorder) AppendSession(_ context.Context, sess eventstore.Session) error {
	f.sessions = append(f.sessions, sess)
	return nil
}

func (f *fakeRecorder) AppendEvent(_ context.Context, evt eventstore.Event) error {
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeRecorder) types() []string {
	var out []string
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestService(t *testing.T, mutate func(*config.GradingConfig)) (*Service, *fakePublisher, *fakeRecorder) {
	t.Helper()
	cfg := config.Default().Grading
	if mutate != nil {
		mutate(&cfg)
	}
	pub, rec := &fakePublisher{}, &fakeRecorder{}
	s := newService(context.Background(), cfg, pub, rec, discard())
	t.Cleanup(s.cancel)
	return s, pub, rec
}

func send(t *testing.T, s *Service, subject string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s.dispatch(&nats.Msg{Subject: subject, Data: data})
}

func say(t *testing.T, s *Service, text string) {
	t.Helper()
	send(t, s, protocol.SubjectTranscriptFinal, protocol.Transcript{Text: text})
}

func control(t *testing.T, s *Service, action string) {
	t.Helper()
	send(t, s, protocol.SubjectSessionControl, protocol.SessionControl{Action: action})
}

func decodeAll[T any](t *testing.T, msgs []published) []T {
	t.Helper()
	out := make([]T, 0, len(msgs))
	for _, m := range msgs {
		var v T
		if err := json.Unmarshal(m.data, &v); err != nil {
			t.Fatalf("decode %s: %v", m.subject, err)
		}
		out = append(out, v)
	}
	return out
}

func TestStartPublishesRecognitionAndProgress(t *testing.T) {
	s, pub, rec := newTestService(t, nil)
	control(t, s, protocol.ControlStart)

	ctl := decodeAll[protocol.RecognitionControl](t, pub.on(protocol.SubjectRecognitionCtl))
	if len(ctl) != 1 || ctl[0].Action != protocol.ActionStart || ctl[0].Locale != "fr-FR" {
		t.Fatalf("expected one recognition start, got %+v", ctl)
	}
	notes := decodeAll[protocol.Notification](t, pub.on(protocol.SubjectNotification))
	if len(notes) != 1 || notes[0].Level != protocol.LevelProgress || notes[0].ID == "" {
		t.Fatalf("expected progress notification, got %+v", notes)
	}
	if snap := s.Snapshot(); snap.State != "listening" || snap.SessionID == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(rec.sessions) != 1 || rec.sessions[0].Scale != 20 {
		t.Fatalf("expected recorded session, got %+v", rec.sessions)
	}
	if len(pub.on(protocol.SubjectSessionSnapshot)) != 1 {
		t.Fatal("expected a snapshot after the control")
	}
}

func TestDictationAnnouncesTotal(t *testing.T) {
	s, pub, rec := newTestService(t, func(c *config.GradingConfig) {
		c.Scale = 15
		c.ConversionScale = 20
		c.Voice = "fr-siwis"
		c.Target = "desk"
	})
	control(t, s, protocol.ControlStart)
	pub.reset()

	say(t, s, "deux plus trois et demi plus")
	say(t, s, "quatre")
	say(t, s, "OK.")

	var order []string
	for _, m := range pub.msgs {
		if m.subject == protocol.SubjectTTSCancel || m.subject == protocol.SubjectTTSRequest {
			order = append(order, m.subject)
		}
	}
	if len(order) != 2 || order[0] != protocol.SubjectTTSCancel || order[1] != protocol.SubjectTTSRequest {
		t.Fatalf("expected cancel before request, got %v", order)
	}
	reqs := decodeAll[protocol.TTSRequest](t, pub.on(protocol.SubjectTTSRequest))
	want := "Total : 9.5 sur 15. Soit 12.7 sur 20."
	if reqs[0].Text != want {
		t.Fatalf("announcement = %q, want %q", reqs[0].Text, want)
	}
	if reqs[0].Voice != "fr-siwis" || reqs[0].Target != "desk" || reqs[0].Locale != "fr-FR" || reqs[0].SessionID == "" {
		t.Fatalf("unexpected tts request %+v", reqs[0])
	}

	ctl := decodeAll[protocol.RecognitionControl](t, pub.on(protocol.SubjectRecognitionCtl))
	if len(ctl) != 1 || ctl[0].Action != protocol.ActionStop {
		t.Fatalf("ok should stop recognition, got %+v", ctl)
	}
	snap := s.Snapshot()
	if snap.State != "finalized" || snap.Result == nil || snap.Result.Total != 9.5 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	types := rec.types()
	wantTypes := []string{
		eventstore.TypeStarted,
		eventstore.TypePointAccepted, eventstore.TypePointAccepted,
		eventstore.TypePointAccepted,
		eventstore.TypeTotalAnnounced,
		eventstore.TypeFinalized,
	}
	if len(types) != len(wantTypes) {
		t.Fatalf("events = %v, want %v", types, wantTypes)
	}
	for i := range wantTypes {
		if types[i] != wantTypes[i] {
			t.Fatalf("events = %v, want %v", types, wantTypes)
		}
	}
	for _, e := range rec.events {
		if e.SessionID != snap.SessionID {
			t.Fatalf("event %s recorded for session %q, want %q", e.Type, e.SessionID, snap.SessionID)
		}
	}
}

func TestTranscriptsIgnoredWhileIdle(t *testing.T) {
	s, pub, rec := newTestService(t, nil)
	say(t, s, "douze")
	if len(pub.on(protocol.SubjectTTSRequest)) != 0 || len(rec.events) != 0 {
		t.Fatal("idle session must ignore transcripts")
	}
	if len(s.Snapshot().Points) != 0 {
		t.Fatal("no points expected")
	}
}

func TestStreamEndRestartsWhileListening(t *testing.T) {
	s, pub, _ := newTestService(t, nil)
	control(t, s, protocol.ControlStart)
	pub.reset()

	send(t, s, protocol.SubjectStreamEnd, protocol.StreamEnd{})
	ctl := decodeAll[protocol.RecognitionControl](t, pub.on(protocol.SubjectRecognitionCtl))
	if len(ctl) != 1 || ctl[0].Action != protocol.ActionStart {
		t.Fatalf("expected restart, got %+v", ctl)
	}

	say(t, s, "fini")
	pub.reset()
	send(t, s, protocol.SubjectStreamEnd, protocol.StreamEnd{})
	if len(pub.on(protocol.SubjectRecognitionCtl)) != 0 {
		t.Fatal("finalized session must not restart recognition")
	}
}

func TestRecognitionErrors(t *testing.T) {
	s, pub, rec := newTestService(t, nil)
	control(t, s, protocol.ControlStart)
	say(t, s, "dix plus onze")

	send(t, s, protocol.SubjectRecognitionError, protocol.RecognitionError{Code: dictation.CodeNoSpeech})
	if s.Snapshot().State != "listening" {
		t.Fatal("transient error must keep listening")
	}

	pub.reset()
	send(t, s, protocol.SubjectRecognitionError, protocol.RecognitionError{Code: dictation.CodeNetwork, Detail: "backend down"})
	snap := s.Snapshot()
	if snap.State != "finalized" {
		t.Fatalf("fatal error must finalize, got %s", snap.State)
	}
	if len(snap.Points) != 2 || snap.Total != 21 {
		t.Fatalf("pending phrase should be flushed, got %+v", snap)
	}
	var sawError bool
	for _, n := range decodeAll[protocol.Notification](t, pub.on(protocol.SubjectNotification)) {
		if n.Level == "error" && n.Message == "Erreur réseau." {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("expected network error notification")
	}
	var sawEvent bool
	for _, e := range rec.events {
		if e.Type == eventstore.TypeRecognitionError {
			sawEvent = true
		}
	}
	if !sawEvent {
		t.Fatal("expected recognition error recorded")
	}
}

func TestConfigureControl(t *testing.T) {
	s, pub, _ := newTestService(t, nil)
	send(t, s, protocol.SubjectSessionControl, protocol.SessionControl{Action: protocol.ControlConfigure, Scale: 10, Conversion: 20})
	if snap := s.Snapshot(); snap.Scale != 10 || snap.Conversion != 20 {
		t.Fatalf("expected configured scales, got %+v", snap)
	}

	send(t, s, protocol.SubjectSessionControl, protocol.SessionControl{Action: protocol.ControlConfigure, Scale: -1})
	if snap := s.Snapshot(); snap.Scale != 10 {
		t.Fatalf("invalid scale must keep previous value, got %v", snap.Scale)
	}

	control(t, s, protocol.ControlStart)
	pub.reset()
	send(t, s, protocol.SubjectSessionControl, protocol.SessionControl{Action: protocol.ControlConfigure, Scale: 30})
	notes := decodeAll[protocol.Notification](t, pub.on(protocol.SubjectNotification))
	if len(notes) != 1 || notes[0].Message != msgScaleLocked {
		t.Fatalf("expected locked notification, got %+v", notes)
	}
	if s.Snapshot().Scale != 10 {
		t.Fatal("active scale must not change while listening")
	}
}

func TestReplayAndNewCopy(t *testing.T) {
	s, pub, rec := newTestService(t, nil)
	control(t, s, protocol.ControlReplay)
	notes := decodeAll[protocol.Notification](t, pub.on(protocol.SubjectNotification))
	if len(notes) != 1 || notes[0].Message != msgNothingToPlay {
		t.Fatalf("expected nothing-to-replay warning, got %+v", notes)
	}

	control(t, s, protocol.ControlStart)
	say(t, s, "douze")
	say(t, s, "ok")
	pub.reset()
	control(t, s, protocol.ControlReplay)
	reqs := decodeAll[protocol.TTSRequest](t, pub.on(protocol.SubjectTTSRequest))
	if len(reqs) != 1 || reqs[0].Text != "Total : 12 sur 20." {
		t.Fatalf("unexpected replay %+v", reqs)
	}

	control(t, s, protocol.ControlNewCopy)
	if snap := s.Snapshot(); snap.State != "idle" || len(snap.Points) != 0 || snap.Result != nil {
		t.Fatalf("new copy must clear, got %+v", snap)
	}
	if rec.events[len(rec.events)-1].Type != eventstore.TypeNewCopy {
		t.Fatalf("expected copy cleared event, got %v", rec.types())
	}
}

func TestStartFailureWhenBusUnavailable(t *testing.T) {
	s, pub, rec := newTestService(t, nil)
	pub.err = errors.New("connection closed")
	control(t, s, protocol.ControlStart)
	if s.Snapshot().State != "idle" {
		t.Fatal("session must stay idle when recognition cannot start")
	}
	if len(rec.sessions) != 0 {
		t.Fatal("failed start must not be recorded")
	}
}

func TestRefusedStartKeepsRecordedSession(t *testing.T) {
	s, pub, rec := newTestService(t, nil)
	control(t, s, protocol.ControlStart)
	say(t, s, "douze")
	say(t, s, "ok")
	recorded := s.Snapshot().SessionID
	if len(rec.sessions) != 1 || rec.sessions[0].ID != recorded {
		t.Fatalf("expected session %q recorded, got %+v", recorded, rec.sessions)
	}

	pub.err = errors.New("connection closed")
	control(t, s, protocol.ControlStart)
	if got := s.Snapshot().SessionID; got != recorded {
		t.Fatalf("refused start replaced session id %q with %q", recorded, got)
	}
	if len(rec.sessions) != 1 {
		t.Fatalf("refused start must not be recorded, got %+v", rec.sessions)
	}

	pub.err = nil
	control(t, s, protocol.ControlStart)
	say(t, s, "fini")
	control(t, s, protocol.ControlNewCopy)
	last := rec.events[len(rec.events)-1]
	if last.Type != eventstore.TypeNewCopy || last.SessionID != rec.sessions[len(rec.sessions)-1].ID {
		t.Fatalf("copy cleared event must belong to a recorded session, got %+v", last)
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	s, pub, _ := newTestService(t, nil)
	s.dispatch(&nats.Msg{Subject: protocol.SubjectSessionControl, Data: []byte("{")})
	if len(pub.msgs) != 0 {
		t.Fatalf("malformed message must not publish, got %d", len(pub.msgs))
	}
}

func TestPipelineOverBus(t *testing.T) {
	log := discard()
	srv, err := natsserver.Start(config.BusConfig{Embedded: true, Port: -1}, log)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, log)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)

	recognizer := stt.NewService(context.Background(), config.Default().STT, client, stt.NewMockRecognizer())
	if err := recognizer.Start(); err != nil {
		t.Fatalf("start stt: %v", err)
	}
	t.Cleanup(recognizer.Close)

	grader := NewService(context.Background(), config.Default().Grading, client, &fakeRecorder{}, log)
	if err := grader.Start(); err != nil {
		t.Fatalf("start grader: %v", err)
	}
	t.Cleanup(grader.Close)

	snapshots := make(chan *nats.Msg, 32)
	requests := make(chan *nats.Msg, 8)
	if _, err := client.Conn().ChanSubscribe(protocol.SubjectSessionSnapshot, snapshots); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := client.Conn().ChanSubscribe(protocol.SubjectTTSRequest, requests); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	_ = client.PublishJSON(protocol.SubjectSessionControl, protocol.SessionControl{Action: protocol.ControlStart})
	waitFor(t, snapshots, func(s Snapshot) bool { return s.State == "listening" })

	frame := func(text string) protocol.AudioFrame {
		return protocol.AudioFrame{SessionID: "mic", PCM: []byte(text), Final: true}
	}
	_ = client.PublishJSON(protocol.SubjectAudioFramePrefix+".mic", frame("douze plus trois"))
	waitFor(t, snapshots, func(s Snapshot) bool { return s.Pending == "trois" })
	_ = client.PublishJSON(protocol.SubjectAudioFramePrefix+".mic", frame("ok"))

	select {
	case msg := <-requests:
		var req protocol.TTSRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Text != "Total : 15 sur 20." {
			t.Fatalf("unexpected announcement %q", req.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for announcement")
	}
}

func waitFor(t *testing.T, ch chan *nats.Msg, cond func(Snapshot) bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-ch:
			var snap Snapshot
			if err := json.Unmarshal(msg.Data, &snap); err != nil {
				t.Fatalf("decode snapshot: %v", err)
			}
			if cond(snap) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
		}
	}
}
