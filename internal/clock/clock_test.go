package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualAdvance(t *testing.T) {
	start := time.Unix(0, 0)
	m := NewManual(start)

	m.Advance(1500 * time.Millisecond)
	assert.Equal(t, start.Add(1500*time.Millisecond), m.Now())

	m.Advance(-time.Hour)
	assert.Equal(t, start.Add(1500*time.Millisecond), m.Now(), "negative advance must not move the clock")

	m.Set(start)
	assert.Equal(t, start, m.Now())
}

func TestSystemClockMovesForward(t *testing.T) {
	c := System()
	a := c.Now()
	b := c.Now()
	assert.False(t, b.Before(a))
}
