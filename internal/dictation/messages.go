package dictation

import "fmt"

const (
	msgListening      = "J'écoute... Dites les points ou \"OK\"."
	msgInvalidScale   = "Veuillez entrer un barème initial valide (nombre positif)."
	msgStartFailed    = "Impossible de démarrer la reconnaissance."
	msgTotalDone      = "Calcul du total terminé."
	msgFinished       = "Dictée terminée."
	msgStopped        = "Dictée arrêtée."
	msgNewCopy        = "Prêt pour une nouvelle copie."
	msgMicrophone     = "Problème avec le microphone."
	msgPermission     = "Permission microphone refusée."
	msgNetwork        = "Erreur réseau."
	msgUnrecognized   = "Point non reconnu : \"%s\""
	msgDidYouMean     = " (vouliez-vous dire « %s » ?)"
	msgGenericFailure = "Erreur: %s"
)

// Recognition error codes, as reported by the speech-to-text collaborator.
const (
	CodeNoSpeech          = "no-speech"
	CodeTimeout           = "timeout"
	CodeAudioCapture      = "audio-capture"
	CodeNotAllowed        = "not-allowed"
	CodeServiceNotAllowed = "service-not-allowed"
	CodeNetwork           = "network"
)

// Transient reports whether a recognition error code leaves the session
// listening. Every code not listed here is fatal.
func Transient(code string) bool {
	return code == CodeNoSpeech || code == CodeTimeout
}

func fatalMessage(code string) string {
	switch code {
	case CodeAudioCapture:
		return msgMicrophone
	case CodeNotAllowed, CodeServiceNotAllowed:
		return msgPermission
	case CodeNetwork:
		return msgNetwork
	default:
		return fmt.Sprintf(msgGenericFailure, code)
	}
}
