package middleware

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(rate.Every(time.Second), 1, time.Minute)
	rl.now = func() time.Time { return clock }
	rl.lastSweep = clock

	for i := 0; i < 300; i++ {
		rl.GetLimiter(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	assert.Len(t, rl.ips, 300)

	clock = clock.Add(2 * time.Minute)
	rl.GetLimiter("10.9.9.9")
	assert.Len(t, rl.ips, 1)
	assert.Equal(t, clock, rl.lastSweep)

	clock = clock.Add(30 * time.Second)
	rl.GetLimiter("10.9.9.10")
	assert.Len(t, rl.ips, 2, "no sweep within ttl of the last one")
}
