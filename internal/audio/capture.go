package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// Source delivers mono float32 frames at its native SampleRate.
// The error channel reports device failures; a closed frame channel after
// Start without Stop is also a failure.
type Source interface {
	Start(ctx context.Context) (<-chan []float32, <-chan error, error)
	Stop() error
	SampleRate() int
}

// ErrNoInputDevice is returned when no microphone is available.
var ErrNoInputDevice = errors.New("no input device available")

// PortAudioSource captures from a microphone.
type PortAudioSource struct {
	host        *Host
	deviceIndex int // -1 selects the best microphone
	logger      *zap.Logger

	mu       sync.Mutex
	stream   *portaudio.Stream
	cancel   context.CancelFunc
	done     chan struct{}
	rate     int
	stopOnce *sync.Once
}

// NewPortAudioSource creates a microphone source. deviceIndex -1 picks one.
func NewPortAudioSource(host *Host, deviceIndex int, logger *zap.Logger) *PortAudioSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortAudioSource{host: host, deviceIndex: deviceIndex, logger: logger}
}

// SampleRate returns the rate of the opened device.
func (s *PortAudioSource) SampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// Start opens the device and begins reading frames.
func (s *PortAudioSource) Start(ctx context.Context) (<-chan []float32, <-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return nil, nil, errors.New("capture already started")
	}
	if err := s.host.Acquire(); err != nil {
		return nil, nil, err
	}

	var stream *portaudio.Stream
	buf := make([]float32, FramesPerBuffer)
	err := s.host.Configure(func() error {
		dev, err := s.pickDevice()
		if err != nil {
			return err
		}
		params := portaudio.StreamParameters{
			Input: portaudio.StreamDeviceParameters{
				Device:   dev,
				Channels: 1,
				Latency:  dev.DefaultLowInputLatency,
			},
			SampleRate:      dev.DefaultSampleRate,
			FramesPerBuffer: FramesPerBuffer,
		}
		stream, err = portaudio.OpenStream(params, buf)
		if err != nil {
			return fmt.Errorf("open input stream: %w", err)
		}
		if err := stream.Start(); err != nil {
			stream.Close()
			return fmt.Errorf("start input stream: %w", err)
		}
		s.rate = int(dev.DefaultSampleRate)
		s.logger.Info("started audio capture", zap.String("device", dev.Name), zap.Int("sample_rate", s.rate))
		return nil
	})
	if err != nil {
		s.host.Release()
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	frames := make(chan []float32, FrameQueueSize)
	errs := make(chan error, 1)
	s.stream, s.cancel, s.done, s.stopOnce = stream, cancel, make(chan struct{}), &sync.Once{}

	go s.readLoop(runCtx, stream, buf, frames, errs, s.done)
	return frames, errs, nil
}

func (s *PortAudioSource) readLoop(ctx context.Context, stream *portaudio.Stream, buf []float32, frames chan<- []float32, errs chan<- error, done chan struct{}) {
	defer close(done)
	defer close(frames)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				s.logger.Debug("input overflowed")
				continue
			}
			if ctx.Err() == nil {
				errs <- fmt.Errorf("read input stream: %w", err)
			}
			return
		}
		select {
		case frames <- append([]float32(nil), buf...):
		default:
			s.logger.Debug("capture queue full, dropping frame")
		}
	}
}

// Stop closes the device. Safe to call repeatedly.
func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	stream, cancel, done, once := s.stream, s.cancel, s.done, s.stopOnce
	s.stream = nil
	s.mu.Unlock()
	if stream == nil {
		return nil
	}

	var err error
	once.Do(func() {
		cancel()
		err = s.host.Configure(func() error {
			// Stop unblocks a pending Read.
			stopErr := stream.Stop()
			<-done
			return errors.Join(stopErr, stream.Close())
		})
		s.host.Release()
	})
	return err
}

func (s *PortAudioSource) pickDevice() (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if s.deviceIndex >= 0 {
		if s.deviceIndex >= len(devices) || devices[s.deviceIndex].MaxInputChannels < 1 {
			return nil, fmt.Errorf("input device %d: %w", s.deviceIndex, ErrNoInputDevice)
		}
		return devices[s.deviceIndex], nil
	}

	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || isLoopback(dev.Name) {
			continue
		}
		if best == nil || prefer(dev.Name, best.Name) {
			best = dev
		}
	}
	if best != nil {
		return best, nil
	}
	if dev, err := portaudio.DefaultInputDevice(); err == nil && dev != nil {
		return dev, nil
	}
	return nil, ErrNoInputDevice
}

// Loopback devices would feed playback straight back into capture.
func isLoopback(name string) bool {
	n := strings.ToLower(name)
	for _, kw := range []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"} {
		if strings.Contains(n, kw) {
			return true
		}
	}
	return false
}

// prefer ranks built-in microphones over external or virtual ones.
func prefer(name, current string) bool {
	n, c := strings.ToLower(name), strings.ToLower(current)
	for _, p := range []string{"built-in", "macbook", "microphone", "mic"} {
		if strings.Contains(n, p) && !strings.Contains(c, p) {
			return true
		}
		if strings.Contains(c, p) {
			return false
		}
	}
	return false
}
