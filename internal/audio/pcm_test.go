package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCM16Conversion(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1, 2}
	pcm := Float32ToPCM16(in)
	require.Len(t, pcm, len(in)*2)

	out := PCM16ToFloat32(pcm)
	require.Len(t, out, len(in))
	assert.InDelta(t, 0.5, out[1], 0.001)
	assert.InDelta(t, -0.5, out[2], 0.001)
	assert.InDelta(t, 1.0, out[5], 0.001, "values beyond full scale clip")
}

func TestPCM16ToFloat32OddLength(t *testing.T) {
	assert.Len(t, PCM16ToFloat32([]byte{1, 2, 3}), 1)
}

func TestResample(t *testing.T) {
	in := Tone(48000, 48000, 0.3)
	out := Resample(in, 48000, CanonicalSampleRate)
	assert.Len(t, out, CanonicalSampleRate)

	same := Resample(in, 16000, 16000)
	assert.Equal(t, len(in), len(same))
	assert.Empty(t, Resample(nil, 48000, 16000))
}

func TestDownmixToMono(t *testing.T) {
	assert.Equal(t, []float32{0.5, 0}, DownmixToMono([]float32{1, 0, 0.5, -0.5}, 2))
}

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.Zero(t, RMS(Silence(100)))
	assert.InDelta(t, 0.5, RMS([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)
}
