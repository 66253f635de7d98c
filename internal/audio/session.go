package audio

import "time"

// Session is the append-only capture buffer for one listening phase.
// It is owned by the Engine's capture goroutine.
type Session struct {
	samples     []float32
	speechStart int // -1 until speech is detected
	speechEnd   int // -1 until sustained silence follows speech
	cooldown    CooldownGuard
	seg         segmenter
}

func newSession(detector Detector, cfg SegmenterConfig) *Session {
	return &Session{
		speechStart: -1,
		speechEnd:   -1,
		seg:         segmenter{cfg: cfg, detector: detector},
	}
}

// Offer appends samples unless the cooldown is active at now. It reports
// whether the samples were accepted.
func (s *Session) Offer(now time.Time, samples []float32) bool {
	if s.cooldown.IsActive(now) {
		return false
	}
	s.samples = append(s.samples, samples...)
	return true
}

// Detect runs VAD over newly appended samples.
func (s *Session) Detect() Boundary {
	if s.speechEnd >= 0 {
		return BoundaryNone
	}
	return s.seg.advance(s)
}

// Len returns the number of accepted samples.
func (s *Session) Len() int { return len(s.samples) }

// SpeechStarted reports whether VAD has seen speech in this session.
func (s *Session) SpeechStarted() bool { return s.speechStart >= 0 }

// Trimmed returns samples in [speechStart, speechEnd), or nil when either
// boundary is missing.
func (s *Session) Trimmed() []float32 {
	if s.speechStart < 0 || s.speechEnd < s.speechStart {
		return nil
	}
	return s.samples[s.speechStart:s.speechEnd]
}

// restart discards samples and VAD state but keeps the cooldown.
func (s *Session) restart() {
	cooldown := s.cooldown
	*s = *newSession(s.seg.detector, s.seg.cfg)
	s.cooldown = cooldown
}
