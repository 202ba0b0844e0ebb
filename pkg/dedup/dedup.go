// Package dedup drops redelivered messages by id within a TTL window.
package dedup

import (
	"context"
	"sync"
	"time"
)

// Deduper reports whether a message id is seen for the first time.
// An empty id is always processed.
type Deduper interface {
	ShouldProcess(ctx context.Context, id string) bool
}

// Memory is a process-local Deduper bounded to max entries.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	max  int
	seen map[string]time.Time
	now  func() time.Time
}

var _ Deduper = (*Memory)(nil)

func NewMemory(ttl time.Duration, max int) *Memory {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if max <= 0 {
		max = 10000
	}
	return &Memory{ttl: ttl, max: max, seen: make(map[string]time.Time, max), now: time.Now}
}

func (d *Memory) ShouldProcess(_ context.Context, id string) bool {
	if id == "" {
		return true
	}
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	if exp, ok := d.seen[id]; ok && now.Before(exp) {
		return false
	}
	d.seen[id] = now.Add(d.ttl)
	if len(d.seen) > d.max {
		for k, v := range d.seen {
			if now.After(v) {
				delete(d.seen, k)
			}
			if len(d.seen) <= d.max {
				break
			}
		}
	}
	return true
}

func (d *Memory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
