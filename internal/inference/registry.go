package inference

import (
	"sync"
)

// Registry is the process-wide identity cache: one session per key, loaded
// once and shared forever. Loads for the same key are single-flighted.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*registryEntry
	loader   func(path string, opts Options) (*Session, error)
}

type registryEntry struct {
	once    sync.Once
	session *Session
	err     error
}

// NewRegistry builds an empty registry. loader may be overridden in tests;
// nil uses LoadModel.
func NewRegistry(loader func(string, Options) (*Session, error)) *Registry {
	if loader == nil {
		loader = LoadModel
	}
	return &Registry{
		sessions: make(map[string]*registryEntry),
		loader:   loader,
	}
}

// GetSession returns the cached session for (path, opts) or loads it. At
// most one load runs per key; concurrent callers block on the same load.
func (r *Registry) GetSession(path string, opts Options) (*Session, error) {
	key := opts.Key(path)

	r.mu.Lock()
	entry, ok := r.sessions[key]
	if !ok {
		entry = &registryEntry{}
		r.sessions[key] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.session, entry.err = r.loader(path, opts)
	})
	if entry.err != nil {
		// Drop the failed entry so a later call can retry the load.
		r.mu.Lock()
		if r.sessions[key] == entry {
			delete(r.sessions, key)
		}
		r.mu.Unlock()
		return nil, entry.err
	}
	return entry.session, nil
}

// Len reports the number of cached sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Clear closes and drops every cached session. Used at graceful shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range r.sessions {
		if entry.session != nil {
			entry.session.Close()
		}
		delete(r.sessions, key)
	}
}
