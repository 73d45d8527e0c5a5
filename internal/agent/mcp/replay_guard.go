package mcp

import (
	"sync"
	"time"

	"github.com/zyedidia/generic/cache"
)

const replayGuardCapacity = 65536

// replayGuard remembers recent signatures per agent. The oldest entries are
// evicted first once capacity is reached.
type replayGuard struct {
	mu   sync.Mutex
	seen *cache.Cache[string, time.Time]
	ttl  time.Duration
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &replayGuard{
		seen: cache.New[string, time.Time](replayGuardCapacity),
		ttl:  ttl,
	}
}

func (g *replayGuard) allow(sessionKey, signature string, now time.Time) bool {
	if g == nil || signature == "" {
		return true
	}
	key := sessionKey + "|" + signature

	g.mu.Lock()
	defer g.mu.Unlock()
	if exp, ok := g.seen.Get(key); ok && exp.After(now) {
		return false
	}
	g.seen.Put(key, now.Add(g.ttl))
	return true
}
