package repository

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartirrigation/irrigation-api/internal/model"
)

// MemoryStore keeps users and activity in process memory. It backs the
// "memory" driver for local runs and the service tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*model.User
	byEmail  map[string]string
	activity []model.ActivityLog
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*model.User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryStore) Users() UserStore { return memoryUsers{s} }

func (s *MemoryStore) Activity() ActivityStore { return memoryActivity{s} }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close(context.Context) error { return nil }

type memoryUsers struct{ s *MemoryStore }

func (m memoryUsers) Create(ctx context.Context, user *model.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	if _, exists := m.s.byEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}

	now := time.Now().UTC()
	user.ID = uuid.NewString()
	user.CreatedAt = now
	user.UpdatedAt = now

	m.s.users[user.ID] = cloneUser(user)
	m.s.byEmail[user.Email] = user.ID
	return nil
}

func (m memoryUsers) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	id, ok := m.s.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(m.s.users[id]), nil
}

func (m memoryUsers) GetByID(ctx context.Context, id string) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	u, ok := m.s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (m memoryUsers) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	u, ok := m.s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

type memoryActivity struct{ s *MemoryStore }

func (m memoryActivity) Append(ctx context.Context, entry *model.ActivityLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return err
	}
	entry.ID = id.String()
	entry.CreatedAt = m.s.now().UTC()

	stored := *entry
	stored.Metadata = maps.Clone(entry.Metadata)
	m.s.activity = append(m.s.activity, stored)
	return nil
}

// ListByUser walks the log backwards so entries come out newest first. IDs
// are UUIDv7, so for a shared timestamp insertion order is also ID order.
func (m memoryActivity) ListByUser(ctx context.Context, userID string, opts model.ListActivityOptions) ([]model.ActivityLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	entries := []model.ActivityLog{}
	for i := len(m.s.activity) - 1; i >= 0; i-- {
		e := m.s.activity[i]
		if e.UserID != userID {
			continue
		}
		if !beforeCursor(e, opts) {
			continue
		}
		e.Metadata = maps.Clone(e.Metadata)
		entries = append(entries, e)
		if opts.Limit > 0 && len(entries) == opts.Limit {
			break
		}
	}
	return entries, nil
}

func beforeCursor(e model.ActivityLog, opts model.ListActivityOptions) bool {
	if opts.Before == nil || e.CreatedAt.Before(*opts.Before) {
		return true
	}
	return opts.BeforeID != "" && e.CreatedAt.Equal(*opts.Before) && e.ID < opts.BeforeID
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Roles = slices.Clone(u.Roles)
	return &c
}
