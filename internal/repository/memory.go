package repository

import (
	"context"
	"sync"
	"time"

	"libris/internal/models"
)

type MemoryStateRepository struct {
	mu         sync.Mutex
	sessions   map[int64]sessionEntry
	rateLimits map[int64]*rateLimitEntry
	ttl        time.Duration
	now        func() time.Time
}

type sessionEntry struct {
	session   models.AssistantSession
	expiresAt time.Time
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func NewMemoryStateRepository(ttl time.Duration) *MemoryStateRepository {
	return &MemoryStateRepository{
		sessions:   make(map[int64]sessionEntry),
		rateLimits: make(map[int64]*rateLimitEntry),
		ttl:        ttl,
		now:        time.Now,
	}
}

func (r *MemoryStateRepository) GetSession(_ context.Context, accountID int64) (*models.AssistantSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[accountID]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		delete(r.sessions, accountID)
		return nil, nil
	}
	session := entry.session
	return &session, nil
}

func (r *MemoryStateRepository) SaveSession(_ context.Context, session *models.AssistantSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(*session)
	return nil
}

func (r *MemoryStateRepository) UpdateSession(_ context.Context, accountID int64, fn func(session *models.AssistantSession) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := models.AssistantSession{AccountID: accountID}
	if entry, ok := r.sessions[accountID]; ok && (entry.expiresAt.IsZero() || !r.now().After(entry.expiresAt)) {
		session = entry.session
	}
	if err := fn(&session); err != nil {
		return err
	}
	r.put(session)
	return nil
}

// put must be called with mu held.
func (r *MemoryStateRepository) put(session models.AssistantSession) {
	entry := sessionEntry{session: session}
	if r.ttl > 0 {
		entry.expiresAt = r.now().Add(r.ttl)
	}
	r.sessions[session.AccountID] = entry
}

func (r *MemoryStateRepository) ClearSession(_ context.Context, accountID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, accountID)
	return nil
}

func (r *MemoryStateRepository) CheckRateLimit(_ context.Context, accountID int64, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	entry, ok := r.rateLimits[accountID]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[accountID] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
