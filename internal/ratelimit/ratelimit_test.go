package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheck_AllowsUnknownKey(t *testing.T) {
	l := New()
	assert.True(t, l.Check("camp-1", "plat-1", 1))
}

func TestCheck_BlocksAtThrottleRate(t *testing.T) {
	now := time.Now()
	l := NewWithClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		assert.True(t, l.Check("camp-1", "plat-1", 5), "send %d should be allowed", i+1)
		l.Record("camp-1", "plat-1")
	}

	// 6th within the hour is blocked.
	assert.False(t, l.Check("camp-1", "plat-1", 5))
}

func TestCheck_WindowRollsAfterAnHour(t *testing.T) {
	now := time.Now()
	l := NewWithClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		l.Record("camp-1", "plat-1")
	}
	assert.False(t, l.Check("camp-1", "plat-1", 5))

	now = now.Add(61 * time.Minute)
	assert.True(t, l.Check("camp-1", "plat-1", 5))

	// Check alone never mutates: the fresh window starts on Record.
	l.Record("camp-1", "plat-1")
	assert.True(t, l.Check("camp-1", "plat-1", 5))
	assert.False(t, l.Check("camp-1", "plat-1", 1))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	now := time.Now()
	l := NewWithClock(func() time.Time { return now })

	l.Record("camp-1", "plat-1")
	assert.False(t, l.Check("camp-1", "plat-1", 1))
	assert.True(t, l.Check("camp-1", "plat-2", 1))
	assert.True(t, l.Check("camp-2", "plat-1", 1))
}
