package config

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/handsfree/internal/syncx"
)

// Settings is the snapshot the voice loop reads once at the start of each turn.
type Settings struct {
	MinChunkScale  float64       `json:"min_chunk_scale"`
	MaxChunkLength int           `json:"max_chunk_length"`
	PlaybackSpeed  float64       `json:"playback_speed"`
	VADThreshold   float64       `json:"vad_threshold"`
	Cooldown       time.Duration `json:"cooldown"`
}

// Validate checks that a snapshot is usable.
func (s Settings) Validate() error {
	if s.MinChunkScale <= 0 {
		return fmt.Errorf("min chunk scale must be positive, got %v", s.MinChunkScale)
	}
	if s.MaxChunkLength <= 0 {
		return fmt.Errorf("max chunk length must be positive, got %d", s.MaxChunkLength)
	}
	if s.PlaybackSpeed < 0.25 || s.PlaybackSpeed > 4 {
		return fmt.Errorf("playback speed must be within [0.25, 4], got %v", s.PlaybackSpeed)
	}
	if s.VADThreshold <= 0 || s.VADThreshold >= 1 {
		return fmt.Errorf("vad threshold must be within (0, 1), got %v", s.VADThreshold)
	}
	if s.Cooldown < 0 {
		return fmt.Errorf("cooldown must not be negative, got %s", s.Cooldown)
	}
	return nil
}

// SettingsSource is the read-only settings collaborator.
type SettingsSource interface {
	Snapshot() Settings
}

// SettingsStore holds the current snapshot in memory.
type SettingsStore struct {
	current *syncx.RWGuard[Settings]
}

// NewSettingsStore creates a store seeded with initial.
func NewSettingsStore(initial Settings) *SettingsStore {
	return &SettingsStore{current: syncx.NewGuard(initial)}
}

// Snapshot returns a copy of the current settings.
func (s *SettingsStore) Snapshot() Settings {
	return s.current.Get()
}

// Replace validates and installs new settings. Turns already running keep their snapshot.
func (s *SettingsStore) Replace(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.current.Set(next)
	return nil
}
