package inference

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/your-org/faceforge/internal/observability"
)

// PoolConfig bounds the session pool.
type PoolConfig struct {
	Enable      bool
	MaxEntries  int
	IdleTimeout time.Duration
}

// PoolStats counts cache outcomes.
type PoolStats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

// Pool is a bounded, LRU-evicting cache of sessions keyed by session key.
// Entries idle past IdleTimeout are dropped by CleanupExpired or the
// background sweep.
type Pool struct {
	mu     sync.Mutex
	cfg    PoolConfig
	cache  map[string]*poolEntry
	lru    *list.List // front = MRU
	stats  PoolStats
	closer func(*Session)
}

type poolEntry struct {
	key        string
	session    *Session
	lastAccess time.Time
	element    *list.Element
}

// NewPool builds a pool. closer runs on evicted/expired sessions; nil
// closes them directly.
func NewPool(cfg PoolConfig, closer func(*Session)) *Pool {
	if closer == nil {
		closer = func(s *Session) { s.Close() }
	}
	return &Pool{
		cfg:    cfg,
		cache:  make(map[string]*poolEntry),
		lru:    list.New(),
		closer: closer,
	}
}

// GetOrCreate returns the cached session for key, or invokes factory and
// inserts the result, evicting the LRU entry at capacity. Accesses promote
// entries to MRU.
func (p *Pool) GetOrCreate(key string, factory func() (*Session, error)) (*Session, error) {
	p.mu.Lock()
	if !p.cfg.Enable {
		p.mu.Unlock()
		return factory()
	}

	if e, ok := p.cache[key]; ok {
		e.lastAccess = time.Now()
		p.lru.MoveToFront(e.element)
		p.stats.Hits++
		p.mu.Unlock()
		observability.SessionPoolHits.Inc()
		return e.session, nil
	}
	p.stats.Misses++
	p.mu.Unlock()
	observability.SessionPoolMisses.Inc()

	// Load outside the lock; model loads are slow.
	session, err := factory()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// A racing loader may have inserted the key meanwhile; prefer the
	// cached one and hand the duplicate to the closer.
	if e, ok := p.cache[key]; ok {
		p.closer(session)
		e.lastAccess = time.Now()
		p.lru.MoveToFront(e.element)
		return e.session, nil
	}

	if p.cfg.MaxEntries > 0 && len(p.cache) >= p.cfg.MaxEntries {
		p.evictLRULocked()
	}

	e := &poolEntry{key: key, session: session, lastAccess: time.Now()}
	e.element = p.lru.PushFront(e)
	p.cache[key] = e
	return session, nil
}

// Evict drops a specific key. Returns whether it was present.
func (p *Pool) Evict(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.cache[key]
	if !ok {
		return false
	}
	p.removeLocked(e)
	return true
}

// CleanupExpired drops entries idle past the timeout; returns the count.
func (p *Pool) CleanupExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.IdleTimeout <= 0 {
		return 0
	}

	now := time.Now()
	count := 0
	for e := p.lru.Back(); e != nil; {
		prev := e.Prev()
		entry := e.Value.(*poolEntry)
		if now.Sub(entry.lastAccess) > p.cfg.IdleTimeout {
			p.removeLocked(entry)
			p.stats.Expirations++
			count++
		}
		e = prev
	}
	return count
}

// Sweep runs CleanupExpired every interval until ctx is cancelled.
func (p *Pool) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CleanupExpired()
		}
	}
}

// Clear drops every entry. Used for graceful shutdown.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.cache {
		p.closer(e.session)
	}
	p.cache = make(map[string]*poolEntry)
	p.lru.Init()
}

// Len returns the number of cached sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cache)
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pool) evictLRULocked() {
	back := p.lru.Back()
	if back == nil {
		return
	}
	p.removeLocked(back.Value.(*poolEntry))
	p.stats.Evictions++
	observability.SessionPoolEvictions.Inc()
}

func (p *Pool) removeLocked(e *poolEntry) {
	p.lru.Remove(e.element)
	delete(p.cache, e.key)
	p.closer(e.session)
}
