package dictation

// Recognition controls the speech-to-text collaborator. Stop must be safe to
// call when recognition is not running.
type Recognition interface {
	Start() error
	Stop()
}

// Speaker is the speech-synthesis collaborator. Speak is fire-and-forget;
// the session always calls CancelCurrent first so that at most one
// announcement plays at a time.
type Speaker interface {
	Speak(text, locale string)
	CancelCurrent()
}

// Level classifies a user-facing notification.
type Level int

const (
	LevelSuccess Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Notifier is the notification surface. Progress shows a message that stays
// until the returned dismiss func is called.
type Notifier interface {
	Notify(level Level, message string)
	Progress(message string) (dismiss func())
}
