package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/listing-image-archiver/internal/listing"
)

// Entry is a registered, downloadable session.
type Entry struct {
	ID        string
	Title     string
	ExpiresAt time.Time
}

// Registry tracks live sessions and their expiry deadlines.
type Registry interface {
	Register(ctx context.Context, id, title string, expiresAt time.Time) error
	// Lookup returns listing.ErrSessionNotFound for unknown ids and for
	// entries whose deadline is not after now.
	Lookup(ctx context.Context, id string, now time.Time) (Entry, error)
	// Expired lists ids whose deadline is at or before now.
	Expired(ctx context.Context, now time.Time) ([]string, error)
	Remove(ctx context.Context, id string) error
	// Active counts entries still live at now.
	Active(ctx context.Context, now time.Time) (int, error)
}

// MemoryRegistry is an in-process Registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{entries: make(map[string]Entry)}
}

// Register implements Registry.
func (r *MemoryRegistry) Register(_ context.Context, id, title string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[id] = Entry{ID: id, Title: title, ExpiresAt: expiresAt}
	return nil
}

// Lookup implements Registry.
func (r *MemoryRegistry) Lookup(_ context.Context, id string, now time.Time) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok || !entry.ExpiresAt.After(now) {
		return Entry{}, listing.ErrSessionNotFound
	}
	return entry, nil
}

// Expired implements Registry. IDs are returned oldest deadline first.
func (r *MemoryRegistry) Expired(_ context.Context, now time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var expired []Entry
	for _, entry := range r.entries {
		if !entry.ExpiresAt.After(now) {
			expired = append(expired, entry)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	ids := make([]string, 0, len(expired))
	for _, entry := range expired {
		ids = append(ids, entry.ID)
	}
	return ids, nil
}

// Remove implements Registry.
func (r *MemoryRegistry) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
	return nil
}

// Active implements Registry.
func (r *MemoryRegistry) Active(_ context.Context, now time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entry := range r.entries {
		if entry.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}
