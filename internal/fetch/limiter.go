package fetch

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultHostLimit is the number of in-flight requests allowed per hostname
// unless an override applies.
const DefaultHostLimit = 4

// DefaultHostOverrides lists hosts that get a tighter cap. Keys match the
// hostname itself or any subdomain of it.
var DefaultHostOverrides = map[string]int64{
	"redgifs.com": 1,
}

type hostSlot struct {
	sem    *semaphore.Weighted
	limit  int64
	active atomic.Int64
}

// HostLimiter caps concurrent requests per hostname. Waiters queue in FIFO
// order behind a weighted semaphore.
type HostLimiter struct {
	mu        sync.Mutex
	hosts     map[string]*hostSlot
	limit     int64
	overrides map[string]int64
}

func NewHostLimiter(limit int, overrides map[string]int64) *HostLimiter {
	if limit <= 0 {
		limit = DefaultHostLimit
	}
	if overrides == nil {
		overrides = DefaultHostOverrides
	}
	return &HostLimiter{
		hosts:     make(map[string]*hostSlot),
		limit:     int64(limit),
		overrides: overrides,
	}
}

func (l *HostLimiter) slot(host string) *hostSlot {
	host = strings.ToLower(host)

	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.hosts[host]
	if !ok {
		limit := l.limitFor(host)
		s = &hostSlot{sem: semaphore.NewWeighted(limit), limit: limit}
		l.hosts[host] = s
	}
	return s
}

func (l *HostLimiter) limitFor(host string) int64 {
	for suffix, n := range l.overrides {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return n
		}
	}
	return l.limit
}

// Acquire blocks until a slot for host is free or ctx ends. The returned
// release func must be called exactly once.
func (l *HostLimiter) Acquire(ctx context.Context, host string) (func(), error) {
	s := l.slot(host)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	s.active.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.active.Add(-1)
			s.sem.Release(1)
		})
	}, nil
}

// Active reports how many requests currently hold a slot for host.
func (l *HostLimiter) Active(host string) int64 {
	return l.slot(host).active.Load()
}

// Limit reports the cap applied to host.
func (l *HostLimiter) Limit(host string) int64 {
	return l.slot(host).limit
}
