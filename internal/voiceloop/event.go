package voiceloop

import "fmt"

// EventKind enumerates the facts capture and chat components report.
type EventKind int

const (
	EventReset EventKind = iota
	EventListeningStarted
	EventListeningStopped
	EventTranscriptionBegan
	EventTranscriptionDelivered
	EventTranscriptionFailed
	EventLLMStarted
	EventLLMCompleted
	EventTTSFetchStarted
	EventTTSSpeakingStarted
	EventTTSCompleted
	EventTTSWaiting
	EventError
)

var eventNames = [...]string{
	"reset", "listening-started", "listening-stopped", "transcription-began",
	"transcription-delivered", "transcription-failed", "llm-started", "llm-completed",
	"tts-fetch-started", "tts-speaking-started", "tts-completed", "tts-waiting", "error",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventNames) {
		return fmt.Sprintf("event(%d)", int(k))
	}
	return eventNames[k]
}

// TurnID identifies one listening session and the turn it produces.
// Zero means the event is not bound to a turn.
type TurnID uint64

// Event is an immutable fact. Only the fields relevant to Kind are set.
type Event struct {
	Kind EventKind
	Turn TurnID

	// Message accompanies EventTranscriptionFailed and EventError.
	Message string
	// Success accompanies EventLLMCompleted.
	Success bool
	// UseCooldown accompanies EventListeningStarted.
	UseCooldown bool
	// Transcript accompanies EventTranscriptionDelivered.
	Transcript string
	// Audio accompanies EventTranscriptionBegan: 16 kHz mono 16-bit PCM.
	Audio []byte
}

func (e Event) String() string {
	switch e.Kind {
	case EventListeningStarted:
		return fmt.Sprintf("%s(useCooldown=%t)#%d", e.Kind, e.UseCooldown, e.Turn)
	case EventLLMCompleted:
		return fmt.Sprintf("%s(%t)#%d", e.Kind, e.Success, e.Turn)
	case EventTranscriptionFailed, EventError:
		return fmt.Sprintf("%s(%q)#%d", e.Kind, e.Message, e.Turn)
	}
	return fmt.Sprintf("%s#%d", e.Kind, e.Turn)
}

// Constructors keep call sites short and make the payload explicit.

func Reset() Event { return Event{Kind: EventReset} }

func ListeningStarted(turn TurnID, useCooldown bool) Event {
	return Event{Kind: EventListeningStarted, Turn: turn, UseCooldown: useCooldown}
}

func ListeningStopped(turn TurnID) Event {
	return Event{Kind: EventListeningStopped, Turn: turn}
}

func TranscriptionBegan(turn TurnID, pcm []byte) Event {
	return Event{Kind: EventTranscriptionBegan, Turn: turn, Audio: pcm}
}

func TranscriptionDelivered(turn TurnID, text string) Event {
	return Event{Kind: EventTranscriptionDelivered, Turn: turn, Transcript: text}
}

func TranscriptionFailed(turn TurnID, msg string) Event {
	return Event{Kind: EventTranscriptionFailed, Turn: turn, Message: msg}
}

func LLMStarted(turn TurnID) Event { return Event{Kind: EventLLMStarted, Turn: turn} }

func LLMCompleted(turn TurnID, success bool) Event {
	return Event{Kind: EventLLMCompleted, Turn: turn, Success: success}
}

func TTSFetchStarted(turn TurnID) Event { return Event{Kind: EventTTSFetchStarted, Turn: turn} }

func TTSSpeakingStarted(turn TurnID) Event { return Event{Kind: EventTTSSpeakingStarted, Turn: turn} }

func TTSCompleted(turn TurnID) Event { return Event{Kind: EventTTSCompleted, Turn: turn} }

func TTSWaiting(turn TurnID) Event { return Event{Kind: EventTTSWaiting, Turn: turn} }

func EncounteredError(turn TurnID, msg string) Event {
	return Event{Kind: EventError, Turn: turn, Message: msg}
}
