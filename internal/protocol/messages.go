package protocol

import "time"

// AudioFrame represents PCM audio data streamed from a capture device.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript is a final recognized utterance.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// RecognitionError reports a recognizer failure. Code uses the dictation
// error codes (no-speech, timeout, audio-capture, not-allowed, network, ...).
type RecognitionError struct {
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamEnd is published when the recognizer finished a capture stream.
type StreamEnd struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RecognitionControl starts or stops the recognizer.
type RecognitionControl struct {
	Action string `json:"action"`
	Locale string `json:"locale,omitempty"`
}

const (
	ActionStart = "start"
	ActionStop  = "stop"
)

// TTSRequest asks for text to be spoken.
type TTSRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	Locale    string `json:"locale,omitempty"`
	Target    string `json:"target,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// TTSCancel interrupts whatever is being spoken on Target.
type TTSCancel struct {
	Target string `json:"target,omitempty"`
}

// AudioChunk carries synthesized PCM to a playback target.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Sequence   int    `json:"sequence"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TTSStatus reports the end of an utterance, completed or interrupted.
type TTSStatus struct {
	SessionID   string    `json:"session_id"`
	Target      string    `json:"target,omitempty"`
	Completed   bool      `json:"completed"`
	Interrupted bool      `json:"interrupted,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// SessionControl is a user action on the dictation session.
type SessionControl struct {
	Action     string  `json:"action"`
	Scale      float64 `json:"scale,omitempty"`
	Conversion float64 `json:"conversion,omitempty"`
}

const (
	ControlStart     = "start"
	ControlStop      = "stop"
	ControlNewCopy   = "new-copy"
	ControlReplay    = "replay"
	ControlConfigure = "configure"
)

// Notification is a message for the user interface. A progress notification
// stays visible until a notification with the same ID and Dismiss set
// arrives.
type Notification struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message,omitempty"`
	Dismiss   bool      `json:"dismiss,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const LevelProgress = "progress"

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectTranscriptFinal  = "stt.text.final"
	SubjectRecognitionError = "stt.error"
	SubjectStreamEnd        = "stt.end"
	SubjectRecognitionCtl   = "stt.control"
	SubjectTTSRequest       = "tts.request"
	SubjectTTSCancel        = "tts.cancel"
	SubjectTTSAudio         = "tts.audio"
	SubjectTTSDone          = "tts.done"
	SubjectSessionControl   = "grader.control"
	SubjectNotification     = "grader.notify"
	SubjectSessionSnapshot  = "grader.snapshot"
)
