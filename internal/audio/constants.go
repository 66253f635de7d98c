package audio

import "time"

// Capture and VAD constants
const (
	// All captured audio is converted to this rate before VAD and upload.
	CanonicalSampleRate = 16000

	// VAD analysis window (32ms at 16kHz)
	VADWindowSamples = 512

	// Hardware buffer size requested from the device
	FramesPerBuffer = 1024

	// Frames queued between the device callback and the engine
	FrameQueueSize = 64

	// No speech within this window ends the listening phase
	DefaultListenTimeout = 60 * time.Second

	DefaultSilenceDuration = 800 * time.Millisecond
	DefaultMinSpeech       = 250 * time.Millisecond

	// Bytes per sample of the upload format (16-bit PCM)
	PCM16SampleBytes = 2
)
