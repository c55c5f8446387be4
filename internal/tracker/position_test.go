package tracker

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolbus-backend/internal/models"
)

func TestPositionTracker_UpdateAndCurrent(t *testing.T) {
	now := time.UnixMilli(1715003456000)
	tr := NewPositionTracker(time.Minute, func() time.Time { return now })

	_, ok := tr.Current()
	assert.False(t, ok)

	require.NoError(t, tr.Update(models.DriverPosition{Latitude: 24.7, Longitude: 46.6}))

	pos, ok := tr.Current()
	require.True(t, ok)
	assert.Equal(t, 24.7, pos.Latitude)
	assert.Equal(t, now.UnixMilli(), pos.Timestamp)

	// Callers get a copy
	pos.Latitude = 0
	again, _ := tr.Current()
	assert.Equal(t, 24.7, again.Latitude)
}

func TestPositionTracker_StaleFix(t *testing.T) {
	now := time.UnixMilli(1715003456000)
	tr := NewPositionTracker(time.Minute, func() time.Time { return now })
	require.NoError(t, tr.Update(models.DriverPosition{Latitude: 24.7, Longitude: 46.6, Timestamp: 42}))

	now = now.Add(2 * time.Minute)
	_, ok := tr.Current()
	assert.False(t, ok)
}

func TestPositionTracker_RejectsInvalid(t *testing.T) {
	tr := NewPositionTracker(0, nil)

	assert.ErrorIs(t, tr.Update(models.DriverPosition{Latitude: math.NaN(), Longitude: 46.6}), ErrInvalidPosition)
	assert.ErrorIs(t, tr.Update(models.DriverPosition{Latitude: 0, Longitude: 0}), ErrInvalidPosition)
	assert.ErrorIs(t, tr.Update(models.DriverPosition{Latitude: 95, Longitude: 46.6}), ErrInvalidPosition)

	_, ok := tr.Current()
	assert.False(t, ok)
}

func TestPositionTracker_Reset(t *testing.T) {
	tr := NewPositionTracker(0, nil)
	require.NoError(t, tr.Update(models.DriverPosition{Latitude: 24.7, Longitude: 46.6}))
	tr.Reset()
	_, ok := tr.Current()
	assert.False(t, ok)
}
