// Package audio owns the microphone tap, voice activity detection, the echo
// cooldown, and speaker playback.
package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Host owns the PortAudio library lifetime. Capture and playback share it;
// stream configuration is serialized through Configure.
type Host struct {
	mu   sync.Mutex
	refs int
}

// NewHost creates an uninitialized host.
func NewHost() *Host { return &Host{} }

// Acquire initializes PortAudio on first use.
func (h *Host) Acquire() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("portaudio initialize: %w", err)
		}
	}
	h.refs++
	return nil
}

// Release terminates PortAudio after the last user.
func (h *Host) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs == 0 {
		return
	}
	h.refs--
	if h.refs == 0 {
		_ = portaudio.Terminate()
	}
}

// Configure runs fn while no other call site is opening or closing streams.
func (h *Host) Configure(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn()
}
