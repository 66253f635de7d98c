package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCooldownGuard(t *testing.T) {
	now := time.Unix(1000, 0)
	var g CooldownGuard
	assert.False(t, g.IsActive(now), "zero value is inactive")

	g.Arm(now, 500*time.Millisecond)
	assert.True(t, g.IsActive(now))
	assert.True(t, g.IsActive(now.Add(499*time.Millisecond)))
	assert.False(t, g.IsActive(now.Add(500*time.Millisecond)))

	g.Arm(now, 0)
	assert.False(t, g.IsActive(now))
}

func TestSessionDropsDuringCooldown(t *testing.T) {
	now := time.Unix(0, 0)
	s := newSession(EnergyDetector{Threshold: 0.05}, NewSegmenterConfig(CanonicalSampleRate, 100*time.Millisecond))
	s.cooldown.Arm(now, time.Second)

	for i := 0; i < 10; i++ {
		assert.False(t, s.Offer(now.Add(time.Duration(i)*50*time.Millisecond), Tone(VADWindowSamples, CanonicalSampleRate, 0.5)))
		assert.Zero(t, s.Len())
	}

	assert.True(t, s.Offer(now.Add(time.Second), Silence(10)))
	assert.Equal(t, 10, s.Len())
}

func TestSegmenterBoundaries(t *testing.T) {
	cfg := NewSegmenterConfig(CanonicalSampleRate, 96*time.Millisecond) // 3 windows
	require.Equal(t, 3, cfg.SilenceWindows)
	s := newSession(EnergyDetector{Threshold: 0.05}, cfg)
	now := time.Now()

	s.Offer(now, Silence(2*VADWindowSamples))
	assert.Equal(t, BoundaryNone, s.Detect())
	assert.False(t, s.SpeechStarted())

	s.Offer(now, Tone(4*VADWindowSamples, CanonicalSampleRate, 0.5))
	assert.Equal(t, BoundarySpeechStart, s.Detect())
	assert.Equal(t, BoundaryNone, s.Detect(), "speech start is reported once")

	s.Offer(now, Silence(2*VADWindowSamples))
	assert.Equal(t, BoundaryNone, s.Detect(), "short pause is not the end")

	s.Offer(now, Tone(VADWindowSamples, CanonicalSampleRate, 0.5))
	s.Offer(now, Silence(3*VADWindowSamples))
	assert.Equal(t, BoundarySpeechEnd, s.Detect())
	assert.Equal(t, BoundaryNone, s.Detect(), "speech end is reported once")

	trimmed := s.Trimmed()
	assert.Len(t, trimmed, 7*VADWindowSamples, "from first voiced window to start of sustained silence")
}

func TestSessionRestartKeepsCooldown(t *testing.T) {
	now := time.Unix(0, 0)
	s := newSession(EnergyDetector{Threshold: 0.05}, NewSegmenterConfig(CanonicalSampleRate, 32*time.Millisecond))
	s.Offer(now, Tone(VADWindowSamples, CanonicalSampleRate, 0.5))
	s.Detect()
	s.cooldown.Arm(now, time.Second)

	s.restart()
	assert.Zero(t, s.Len())
	assert.False(t, s.SpeechStarted())
	assert.Nil(t, s.Trimmed())
	assert.True(t, s.cooldown.IsActive(now))
}
