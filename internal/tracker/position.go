package tracker

import (
	"errors"
	"sync"
	"time"

	"schoolbus-backend/internal/geo"
	"schoolbus-backend/internal/models"
)

var ErrInvalidPosition = errors.New("invalid coordinates")

// PositionTracker holds the latest GPS fix for the bus. One instance is
// created by the agent and handed to whatever needs the position.
type PositionTracker struct {
	mu       sync.RWMutex
	current  *models.DriverPosition
	received time.Time
	maxAge   time.Duration
	now      func() time.Time
}

// NewPositionTracker creates a tracker. Fixes older than maxAge are treated
// as unknown; zero disables the check.
func NewPositionTracker(maxAge time.Duration, now func() time.Time) *PositionTracker {
	if now == nil {
		now = time.Now
	}
	return &PositionTracker{maxAge: maxAge, now: now}
}

// Update replaces the current fix
func (t *PositionTracker) Update(pos models.DriverPosition) error {
	if !geo.ValidCoordinate(pos.Latitude, pos.Longitude) {
		return ErrInvalidPosition
	}
	// Null island is what most GPS stacks report before a fix
	if pos.Latitude == 0 && pos.Longitude == 0 {
		return ErrInvalidPosition
	}

	received := t.now()
	if pos.Timestamp == 0 {
		pos.Timestamp = received.UnixMilli()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = &pos
	t.received = received
	return nil
}

// Current returns a copy of the latest fix if it is fresh enough
func (t *PositionTracker) Current() (*models.DriverPosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.current == nil {
		return nil, false
	}
	if t.maxAge > 0 && t.now().Sub(t.received) > t.maxAge {
		return nil, false
	}

	pos := *t.current
	return &pos, true
}

// Reset forgets the current fix
func (t *PositionTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = nil
}
