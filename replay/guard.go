// Package replay records consumed instruction fingerprints so a signed
// instruction takes effect at most once inside its validity window.
package replay

import (
	"context"
	"sync"
	"time"
)

// Guard claims instruction fingerprints.
type Guard interface {
	// Claim marks key as used for ttl. It returns false if key was already
	// claimed and has not expired.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// compile-time interface check
var _ Guard = (*MemoryGuard)(nil)

// MemoryGuard is a process-local Guard.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
	claims  int
}

// sweepEvery controls how many claims pass between expiry sweeps.
const sweepEvery = 256

// NewMemoryGuard creates an empty in-memory guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Claim implements Guard.
func (g *MemoryGuard) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.claims++
	if g.claims%sweepEvery == 0 {
		for k, exp := range g.entries {
			if !now.Before(exp) {
				delete(g.entries, k)
			}
		}
	}

	if exp, ok := g.entries[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.entries[key] = now.Add(ttl)
	return true, nil
}

// Len returns the number of tracked keys, expired or not.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
