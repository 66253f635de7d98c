package voiceloop

// Reduce returns the phase after applying e to p. It performs no I/O and
// holds no state; an event that does not apply to the current phase leaves
// the phase unchanged.
func Reduce(p Phase, e Event) Phase {
	switch e.Kind {
	case EventReset:
		return PhaseOf(Idle)
	case EventListeningStarted:
		return PhaseOf(Listening)
	case EventListeningStopped:
		if p.Kind == Listening {
			return PhaseOf(Idle)
		}
	case EventTranscriptionBegan:
		if p.Kind == Listening {
			return PhaseOf(Transcribing)
		}
	case EventTranscriptionDelivered:
		if p.Kind == Transcribing {
			return PhaseOf(WaitingForLLM)
		}
	case EventTranscriptionFailed:
		if p.Kind == Transcribing {
			return ErrorPhase(e.Message)
		}
	case EventLLMStarted:
		return PhaseOf(WaitingForLLM)
	case EventLLMCompleted:
		if !e.Success && p.Kind == WaitingForLLM {
			return ErrorPhase("")
		}
	case EventTTSFetchStarted:
		// Skipped while already speaking so the indicator does not flicker.
		if p.Kind != Speaking {
			return PhaseOf(FetchingTTS)
		}
	case EventTTSSpeakingStarted:
		return PhaseOf(Speaking)
	case EventTTSCompleted:
		if p.Kind == Speaking || p.Kind == FetchingTTS {
			return PhaseOf(Listening)
		}
	case EventTTSWaiting:
		return PhaseOf(FetchingTTS)
	case EventError:
		return ErrorPhase(e.Message)
	}
	return p
}

// Fold applies events in order starting from initial.
func Fold(initial Phase, events ...Event) Phase {
	p := initial
	for _, e := range events {
		p = Reduce(p, e)
	}
	return p
}
