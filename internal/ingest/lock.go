package ingest

import "sync"

// scanLocks tracks scans with an ingestion in flight so a duplicate trigger
// does not run the vision models twice for the same photo.
type scanLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// TryAcquire claims id without blocking. It returns false if id is held.
func (l *scanLocks) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]struct{})
	}
	if _, busy := l.held[id]; busy {
		return false
	}
	l.held[id] = struct{}{}
	return true
}

// Release frees id.
func (l *scanLocks) Release(id string) {
	l.mu.Lock()
	delete(l.held, id)
	l.mu.Unlock()
}
