package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a push-driven Source for tests.
type MockSource struct {
	rate int

	mu      sync.Mutex
	frames  chan []float32
	errs    chan error
	stopped chan struct{}
	starts  atomic.Int32
	stops   atomic.Int32
	failure error
}

// NewMockSource creates a mock delivering frames at rate.
func NewMockSource(rate int) *MockSource {
	return &MockSource{rate: rate}
}

// FailStart makes the next Start calls fail with err (nil clears it).
func (m *MockSource) FailStart(err error) {
	m.mu.Lock()
	m.failure = err
	m.mu.Unlock()
}

func (m *MockSource) SampleRate() int { return m.rate }

func (m *MockSource) Start(ctx context.Context) (<-chan []float32, <-chan error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failure != nil {
		return nil, nil, m.failure
	}
	if m.frames != nil {
		return nil, nil, errors.New("mock source already started")
	}
	m.frames = make(chan []float32)
	m.errs = make(chan error, 1)
	m.stopped = make(chan struct{})
	m.starts.Add(1)
	return m.frames, m.errs, nil
}

func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frames == nil {
		return nil
	}
	close(m.stopped)
	m.frames, m.errs, m.stopped = nil, nil, nil
	m.stops.Add(1)
	return nil
}

// Push delivers one frame, blocking until it is received. It returns false
// if the source is not running or nobody reads within a second.
func (m *MockSource) Push(frame []float32) bool {
	m.mu.Lock()
	frames, stopped := m.frames, m.stopped
	m.mu.Unlock()
	if frames == nil {
		return false
	}
	select {
	case frames <- frame:
		return true
	case <-stopped:
		return false
	case <-time.After(time.Second):
		return false
	}
}

// Fail reports a device error to the running consumer.
func (m *MockSource) Fail(err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errs == nil {
		return false
	}
	m.errs <- err
	return true
}

// Running reports whether Start has been called without a matching Stop.
func (m *MockSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames != nil
}

// Starts returns the number of successful Start calls.
func (m *MockSource) Starts() int { return int(m.starts.Load()) }

// Stops returns the number of effective Stop calls.
func (m *MockSource) Stops() int { return int(m.stops.Load()) }

// Tone returns n samples of a 220 Hz sine at amplitude.
func Tone(n, rate int, amplitude float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	return out
}

// Silence returns n zero samples.
func Silence(n int) []float32 { return make([]float32, n) }

// MockPlayer records played chunks. Each Play takes Delay unless cancelled.
type MockPlayer struct {
	Delay time.Duration

	mu      sync.Mutex
	played  [][]byte
	started chan struct{}
	err     error
	stops   int
}

// NewMockPlayer creates a player whose Started channel receives one value
// per Play call.
func NewMockPlayer(delay time.Duration) *MockPlayer {
	return &MockPlayer{Delay: delay, started: make(chan struct{}, 64)}
}

// FailWith makes subsequent Play calls return err.
func (p *MockPlayer) FailWith(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *MockPlayer) Play(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case p.started <- struct{}{}:
	default:
	}

	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	p.mu.Lock()
	p.played = append(p.played, pcm)
	p.mu.Unlock()
	return nil
}

func (p *MockPlayer) Stop() error {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
	return nil
}

// Started signals each time playback of a chunk begins.
func (p *MockPlayer) Started() <-chan struct{} { return p.started }

// Played returns the chunks that finished playing, in order.
func (p *MockPlayer) Played() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.played...)
}
