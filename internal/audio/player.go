package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

// Player plays 16-bit mono PCM. Play blocks until the audio has been
// handed to the device or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
	Stop() error
}

// PortAudioPlayer writes to the default output device. The stream stays
// open between chunks so consecutive chunks play without a gap.
type PortAudioPlayer struct {
	host       *Host
	sampleRate int
	logger     *zap.Logger

	mu       sync.Mutex
	stream   *portaudio.Stream
	buf      []float32
	running  bool
	acquired bool
}

// NewPortAudioPlayer creates a player for PCM at sampleRate.
func NewPortAudioPlayer(host *Host, sampleRate int, logger *zap.Logger) *PortAudioPlayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortAudioPlayer{host: host, sampleRate: sampleRate, logger: logger}
}

func (p *PortAudioPlayer) ensureStream() error {
	if p.stream == nil {
		if err := p.host.Acquire(); err != nil {
			return err
		}
		p.acquired = true
		p.buf = make([]float32, FramesPerBuffer)
		err := p.host.Configure(func() error {
			stream, err := portaudio.OpenDefaultStream(0, 1, float64(p.sampleRate), FramesPerBuffer, p.buf)
			if err != nil {
				return fmt.Errorf("open output stream: %w", err)
			}
			p.stream = stream
			return nil
		})
		if err != nil {
			p.host.Release()
			p.acquired = false
			return err
		}
	}
	if !p.running {
		if err := p.stream.Start(); err != nil {
			return fmt.Errorf("start output stream: %w", err)
		}
		p.running = true
	}
	return nil
}

// Play writes pcm frame by frame, checking ctx between frames.
func (p *PortAudioPlayer) Play(ctx context.Context, pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureStream(); err != nil {
		return err
	}

	samples := PCM16ToFloat32(pcm)
	for off := 0; off < len(samples); off += FramesPerBuffer {
		if err := ctx.Err(); err != nil {
			p.abortLocked()
			return err
		}
		n := copy(p.buf, samples[off:])
		clear(p.buf[n:])
		if err := p.stream.Write(); err != nil {
			if errors.Is(err, portaudio.OutputUnderflowed) {
				p.logger.Debug("output underflowed")
				continue
			}
			p.abortLocked()
			return fmt.Errorf("write output stream: %w", err)
		}
	}
	return nil
}

// Stop silences the device immediately and discards buffered output.
func (p *PortAudioPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abortLocked()
}

func (p *PortAudioPlayer) abortLocked() error {
	if p.stream == nil || !p.running {
		return nil
	}
	p.running = false
	return p.stream.Abort()
}

// Close releases the output stream.
func (p *PortAudioPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	_ = p.abortLocked()
	err := p.host.Configure(p.stream.Close)
	p.stream = nil
	if p.acquired {
		p.host.Release()
		p.acquired = false
	}
	return err
}
