// Package ratelimiter throttles RPC calls with token buckets from
// golang.org/x/time/rate.
//
// A RateLimiter has one global bucket and, optionally, one bucket per
// client address. A call must take a token from both.
package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// maxClients bounds the per-client table. When it is full, buckets that
// have refilled completely are dropped; they carry no state worth keeping.
const maxClients = 4096

// Config sets the bucket sizes. A zero rate disables that bucket.
type Config struct {
	RequestsPerSecond uint
	Burst             uint

	PerClientRequestsPerSecond uint
	PerClientBurst             uint
}

// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	global *rate.Limiter

	clientLimit rate.Limit
	clientBurst int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

// New returns a limiter for cfg. A burst below the rate is raised to the
// rate so a full second's worth of calls can always start at once.
func New(cfg Config) *RateLimiter {
	r := &RateLimiter{clients: make(map[string]*rate.Limiter)}
	if cfg.RequestsPerSecond > 0 {
		r.global = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst(cfg.RequestsPerSecond, cfg.Burst))
	}
	if cfg.PerClientRequestsPerSecond > 0 {
		r.clientLimit = rate.Limit(cfg.PerClientRequestsPerSecond)
		r.clientBurst = burst(cfg.PerClientRequestsPerSecond, cfg.PerClientBurst)
	}
	return r
}

func burst(rps, b uint) int {
	if b < rps {
		return int(rps)
	}
	return int(b)
}

// Enabled reports whether any bucket is configured.
func (r *RateLimiter) Enabled() bool {
	return r != nil && (r.global != nil || r.clientLimit > 0)
}

// Allow takes a token for a call from client (an IP address) without
// waiting. It reports false when either bucket is empty.
func (r *RateLimiter) Allow(client string) bool {
	if r == nil {
		return true
	}
	if c := r.client(client); c != nil && !c.Allow() {
		return false
	}
	if r.global != nil && !r.global.Allow() {
		return false
	}
	return true
}

// Wait blocks until client may make a call or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, client string) error {
	if r == nil {
		return nil
	}
	if c := r.client(client); c != nil {
		if err := c.Wait(ctx); err != nil {
			return err
		}
	}
	if r.global != nil {
		return r.global.Wait(ctx)
	}
	return nil
}

// SetLimit changes the global rate. Zero removes the global bucket.
func (r *RateLimiter) SetLimit(requestsPerSecond, b uint) {
	if requestsPerSecond == 0 {
		r.global = nil
		return
	}
	if r.global == nil {
		r.global = rate.NewLimiter(rate.Limit(requestsPerSecond), burst(requestsPerSecond, b))
		return
	}
	r.global.SetLimit(rate.Limit(requestsPerSecond))
	r.global.SetBurst(burst(requestsPerSecond, b))
}

// Tokens returns the tokens left in the global bucket, or -1 without one.
func (r *RateLimiter) Tokens() float64 {
	if r.global == nil {
		return -1
	}
	return r.global.Tokens()
}

// Clients returns the number of per-client buckets held.
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *RateLimiter) client(addr string) *rate.Limiter {
	if r.clientLimit == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.clients[addr]; ok {
		return l
	}
	if len(r.clients) >= maxClients {
		r.pruneLocked()
	}
	l := rate.NewLimiter(r.clientLimit, r.clientBurst)
	r.clients[addr] = l
	return l
}

func (r *RateLimiter) pruneLocked() {
	for addr, l := range r.clients {
		if l.Tokens() >= float64(r.clientBurst) {
			delete(r.clients, addr)
		}
	}
}
