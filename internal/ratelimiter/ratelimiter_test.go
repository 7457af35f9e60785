package ratelimiter

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestGlobalBucket(t *testing.T) {
	r := New(Config{RequestsPerSecond: 2, Burst: 2})
	require.True(t, r.Enabled())

	assert.True(t, r.Allow("10.0.0.1"))
	assert.True(t, r.Allow("10.0.0.2"))
	assert.False(t, r.Allow("10.0.0.3"), "the bucket is shared")
	assert.Equal(t, 0, r.Clients())
}

func TestBurstRaisedToRate(t *testing.T) {
	r := New(Config{RequestsPerSecond: 5, Burst: 1})
	for i := 0; i < 5; i++ {
		assert.True(t, r.Allow("c"), "call %d", i)
	}
	assert.False(t, r.Allow("c"))
}

func TestPerClientBucket(t *testing.T) {
	r := New(Config{PerClientRequestsPerSecond: 1, PerClientBurst: 1})

	assert.True(t, r.Allow("10.0.0.1"))
	assert.False(t, r.Allow("10.0.0.1"))
	assert.True(t, r.Allow("10.0.0.2"), "clients do not share a bucket")
	assert.Equal(t, 2, r.Clients())
}

func TestDisabled(t *testing.T) {
	var nilLimiter *RateLimiter
	assert.False(t, nilLimiter.Enabled())
	assert.True(t, nilLimiter.Allow("x"))
	assert.NoError(t, nilLimiter.Wait(context.Background(), "x"))

	r := New(Config{})
	assert.False(t, r.Enabled())
	for i := 0; i < 100; i++ {
		require.True(t, r.Allow("x"))
	}
	assert.Equal(t, float64(-1), r.Tokens())
}

func TestWaitHonoursContext(t *testing.T) {
	r := New(Config{RequestsPerSecond: 1, Burst: 1})
	require.True(t, r.Allow("c"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, r.Wait(ctx, "c"))
}

func TestSetLimit(t *testing.T) {
	r := New(Config{})
	r.SetLimit(1, 1)
	assert.True(t, r.Allow("c"))
	assert.False(t, r.Allow("c"))

	r.SetLimit(0, 0)
	assert.True(t, r.Allow("c"))
}

func TestPruneDropsFullBuckets(t *testing.T) {
	r := New(Config{PerClientRequestsPerSecond: 1000, PerClientBurst: 1000})
	for i := 0; i < maxClients; i++ {
		r.clients[fmt.Sprintf("10.0.%d.%d", i/256, i%256)] = rate.NewLimiter(r.clientLimit, r.clientBurst)
	}

	assert.True(t, r.Allow("fresh"))
	assert.Equal(t, 1, r.Clients())
}
