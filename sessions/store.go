package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("sessions: session not found")

// Store is a key-value session store with expiry. Adapters consult it to
// tell a new interactive session from a resumed one: a miss means NEW, a
// hit means RESUME.
type Store interface {
	// Create stores a new session under id with a fresh deadline,
	// replacing any existing one.
	Create(ctx context.Context, id string, data map[string]string) error

	// Load returns the session data for id, or ErrNotFound.
	Load(ctx context.Context, id string) (map[string]string, error)

	// Refresh pushes the session's deadline out by the store TTL.
	Refresh(ctx context.Context, id string) error

	// Delete removes the session. Deleting an absent session is a no-op.
	Delete(ctx context.Context, id string) error

	// Close releases store resources.
	Close() error
}

const (
	defaultTTL           = 10 * time.Minute
	defaultSweepInterval = 30 * time.Second
)

type record struct {
	data     map[string]string
	deadline time.Time
}

// MemoryStore is an in-process Store. Expired sessions are dropped
// lazily on access and swept periodically by a janitor goroutine.
type MemoryStore struct {
	ttl   time.Duration
	sweep time.Duration

	mu       sync.RWMutex
	sessions map[string]record

	logger    *slog.Logger
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTTL sets the session lifetime.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.ttl = ttl
	}
}

// WithSweepInterval sets how often the janitor removes expired sessions.
func WithSweepInterval(interval time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.sweep = interval
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) MemoryOption {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// NewMemoryStore creates a memory store and starts its janitor.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		ttl:      defaultTTL,
		sweep:    defaultSweepInterval,
		sessions: make(map[string]record),
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.janitor()
	return s
}

// Create stores a new session under id.
func (s *MemoryStore) Create(ctx context.Context, id string, data map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}
	s.mu.Lock()
	s.sessions[id] = record{data: copied, deadline: time.Now().Add(s.ttl)}
	s.mu.Unlock()
	return nil
}

// Load returns the session data for id.
func (s *MemoryStore) Load(ctx context.Context, id string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || time.Now().After(rec.deadline) {
		return nil, ErrNotFound
	}
	out := make(map[string]string, len(rec.data))
	for k, v := range rec.data {
		out[k] = v
	}
	return out, nil
}

// Refresh extends the session deadline by the store TTL.
func (s *MemoryStore) Refresh(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok || time.Now().After(rec.deadline) {
		return ErrNotFound
	}
	rec.deadline = time.Now().Add(s.ttl)
	s.sessions[id] = rec
	return nil
}

// Delete removes the session.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions, expired ones included
// until the janitor's next sweep.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the janitor. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

func (s *MemoryStore) janitor() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			removed := 0
			for id, rec := range s.sessions {
				if now.After(rec.deadline) {
					delete(s.sessions, id)
					removed++
				}
			}
			s.mu.Unlock()
			if removed > 0 {
				s.logger.Debug("expired sessions swept", "removed", removed)
			}
		}
	}
}
