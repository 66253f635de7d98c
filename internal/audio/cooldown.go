package audio

import "time"

// CooldownGuard rejects capture for a window after playback so the
// assistant does not hear itself. The zero value is inactive.
type CooldownGuard struct {
	expiry time.Time
}

// Arm sets the expiry to now+d. A non-positive d disarms the guard.
func (g *CooldownGuard) Arm(now time.Time, d time.Duration) {
	if d <= 0 {
		g.expiry = time.Time{}
		return
	}
	g.expiry = now.Add(d)
}

// IsActive reports whether now is before the expiry.
func (g *CooldownGuard) IsActive(now time.Time) bool {
	return now.Before(g.expiry)
}

// Expiry returns the armed expiry, zero when never armed.
func (g *CooldownGuard) Expiry() time.Time { return g.expiry }
