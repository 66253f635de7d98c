package audio

import "time"

// Detector classifies one analysis window as voiced or not.
type Detector interface {
	IsSpeech(window []float32) bool
}

// EnergyDetector is an RMS threshold detector on normalized samples.
type EnergyDetector struct {
	Threshold float64
}

// IsSpeech reports whether the window's RMS exceeds the threshold.
func (d EnergyDetector) IsSpeech(window []float32) bool {
	return RMS(window) > d.Threshold
}

// Boundary is a VAD decision for a session.
type Boundary int

const (
	BoundaryNone Boundary = iota
	BoundarySpeechStart
	BoundarySpeechEnd
)

// SegmenterConfig sizes the segmenter in samples at the canonical rate.
type SegmenterConfig struct {
	WindowSamples  int
	SilenceWindows int
}

// NewSegmenterConfig converts durations into window counts.
func NewSegmenterConfig(sampleRate int, silence time.Duration) SegmenterConfig {
	windowDur := time.Duration(VADWindowSamples) * time.Second / time.Duration(sampleRate)
	n := int((silence + windowDur - 1) / windowDur)
	if n < 1 {
		n = 1
	}
	return SegmenterConfig{WindowSamples: VADWindowSamples, SilenceWindows: n}
}

// segmenter turns window decisions into at most one speech start and one
// speech end per session.
type segmenter struct {
	cfg      SegmenterConfig
	detector Detector

	analyzed  int // samples already classified
	silentRun int
	runStart  int // first sample of the current silent run
}

// advance classifies every complete window in samples[analyzed:] and reports
// a boundary at most once per call.
func (g *segmenter) advance(s *Session) Boundary {
	for g.analyzed+g.cfg.WindowSamples <= len(s.samples) {
		start := g.analyzed
		window := s.samples[start : start+g.cfg.WindowSamples]
		g.analyzed += g.cfg.WindowSamples
		voiced := g.detector.IsSpeech(window)

		if s.speechStart < 0 {
			if voiced {
				s.speechStart = start
				return BoundarySpeechStart
			}
			continue
		}

		if voiced {
			g.silentRun = 0
			continue
		}
		if g.silentRun == 0 {
			g.runStart = start
		}
		g.silentRun++
		if g.silentRun >= g.cfg.SilenceWindows {
			s.speechEnd = g.runStart
			return BoundarySpeechEnd
		}
	}
	return BoundaryNone
}
