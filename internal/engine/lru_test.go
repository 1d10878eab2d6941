package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoopGuard_RememberAndSeen(t *testing.T) {
	t.Parallel()
	g := newLoopGuard(4, time.Minute)
	g.Remember("s1", "channel:1:2", 42)

	assert.True(t, g.Seen("s1", "channel:1:2", 42))
	assert.False(t, g.Seen("s1", "channel:1:2", 43))
	assert.False(t, g.Seen("s2", "channel:1:2", 42))
}

func TestLoopGuard_TTLExpiry(t *testing.T) {
	t.Parallel()
	g := newLoopGuard(4, time.Minute)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }
	g.Remember("s1", "src", 1)

	now = now.Add(61 * time.Second)
	assert.False(t, g.Seen("s1", "src", 1))
}

func TestLoopGuard_CapacityEviction(t *testing.T) {
	t.Parallel()
	g := newLoopGuard(2, time.Minute)
	g.Remember("s1", "src", 1)
	g.Remember("s1", "src", 2)
	g.Remember("s1", "src", 3)

	assert.False(t, g.Seen("s1", "src", 1))
	assert.True(t, g.Seen("s1", "src", 2))
	assert.True(t, g.Seen("s1", "src", 3))
}
