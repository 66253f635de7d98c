// Package voiceloop defines the voice loop's phases, the events that move
// it between them, and the pure transition function.
package voiceloop

import "fmt"

// PhaseKind enumerates the voice loop phases. Exactly one is active at a time.
type PhaseKind int

const (
	Idle PhaseKind = iota
	Listening
	Transcribing
	WaitingForLLM
	FetchingTTS
	Speaking
	Error
)

var phaseNames = [...]string{"idle", "listening", "transcribing", "waitingForLLM", "fetchingTTS", "speaking", "error"}

func (k PhaseKind) String() string {
	if k < 0 || int(k) >= len(phaseNames) {
		return fmt.Sprintf("phase(%d)", int(k))
	}
	return phaseNames[k]
}

// Phase is the coordinator's current state. Message is only meaningful for
// Error and may be empty.
type Phase struct {
	Kind    PhaseKind `json:"kind"`
	Message string    `json:"message,omitempty"`
}

// PhaseOf returns a message-less phase.
func PhaseOf(k PhaseKind) Phase { return Phase{Kind: k} }

// ErrorPhase returns an error phase carrying msg.
func ErrorPhase(msg string) Phase { return Phase{Kind: Error, Message: msg} }

func (p Phase) String() string {
	if p.Kind == Error && p.Message != "" {
		return fmt.Sprintf("error(%s)", p.Message)
	}
	return p.Kind.String()
}

// Busy reports whether a turn is in flight and can be cancelled.
func (p Phase) Busy() bool {
	switch p.Kind {
	case Transcribing, WaitingForLLM, FetchingTTS, Speaking:
		return true
	}
	return false
}
