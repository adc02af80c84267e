package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNow_AlwaysUTC(t *testing.T) {
	now := Now()

	if now.Location() != time.UTC {
		t.Errorf("Now() returned non-UTC timezone: %v", now.Location())
	}
}

func TestSystemClock_WholeSeconds(t *testing.T) {
	now := SystemClock{}.Now()

	assert.Zero(t, now.Nanosecond())
	assert.Equal(t, time.UTC, now.Location())
}

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	assert.Equal(t, start, c.Now())
	c.Advance(7 * 24 * time.Hour)
	assert.Equal(t, start.AddDate(0, 0, 7), c.Now())
	c.Set(start)
	assert.Equal(t, start, c.Now())
}

func TestMonotonicClock_NeverStepsBack(t *testing.T) {
	start := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)
	src := NewManualClock(start)
	c := NewMonotonicClock(src)

	assert.Equal(t, start, c.Now())

	src.Set(start.Add(-time.Hour))
	assert.Equal(t, start, c.Now(), "backwards step is clamped")

	src.Set(start.Add(time.Minute))
	assert.Equal(t, start.Add(time.Minute), c.Now())
}
