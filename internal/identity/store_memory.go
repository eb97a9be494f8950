package identity

import (
	"context"
	"sync"
	"time"

	"cirvia/pkg/domain"
	"cirvia/pkg/platform/sentinel"
)

// In-memory stores back tests and local development. They intentionally favor
// clarity over performance.

type InMemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[domain.UserID]*Profile
}

func NewInMemoryProfileStore() *InMemoryProfileStore {
	return &InMemoryProfileStore{profiles: make(map[domain.UserID]*Profile)}
}

// Put seeds or replaces a profile.
func (s *InMemoryProfileStore) Put(profile *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *profile
	s.profiles[profile.UserID] = &copied
}

func (s *InMemoryProfileStore) GetByUserID(_ context.Context, userID domain.UserID) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.profiles[userID]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryProfileStore) GetByUserIDs(_ context.Context, userIDs []domain.UserID) (map[domain.UserID]*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.UserID]*Profile, len(userIDs))
	for _, id := range userIDs {
		if p, ok := s.profiles[id]; ok {
			copied := *p
			out[id] = &copied
		}
	}
	return out, nil
}

type InMemoryScopeStore struct {
	mu       sync.RWMutex
	settings map[ScopeKey]*ScopeSetting
}

func NewInMemoryScopeStore() *InMemoryScopeStore {
	return &InMemoryScopeStore{settings: make(map[ScopeKey]*ScopeSetting)}
}

func (s *InMemoryScopeStore) GetByUserAndScope(_ context.Context, userID domain.UserID, scope domain.ScopeRef) (*ScopeSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if setting, ok := s.settings[ScopeKey{UserID: userID, Scope: scope}]; ok {
		copied := *setting
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryScopeStore) GetGlobalDefault(ctx context.Context, userID domain.UserID) (*ScopeSetting, error) {
	return s.GetByUserAndScope(ctx, userID, domain.GlobalScope())
}

func (s *InMemoryScopeStore) CreateGlobalDefaultAnonymous(_ context.Context, userID domain.UserID) (*ScopeSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ScopeKey{UserID: userID, Scope: domain.GlobalScope()}
	if existing, ok := s.settings[key]; ok {
		copied := *existing
		return &copied, nil
	}
	setting := NewDefaultAnonymousSetting(userID, time.Now())
	s.settings[key] = setting
	copied := *setting
	return &copied, nil
}

func (s *InMemoryScopeStore) GetByUsersAndScope(_ context.Context, userIDs []domain.UserID, scope domain.ScopeRef) (map[domain.UserID]*ScopeSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.UserID]*ScopeSetting, len(userIDs))
	for _, id := range userIDs {
		if setting, ok := s.settings[ScopeKey{UserID: id, Scope: scope}]; ok {
			copied := *setting
			out[id] = &copied
		}
	}
	return out, nil
}

func (s *InMemoryScopeStore) GetGlobalDefaults(ctx context.Context, userIDs []domain.UserID) (map[domain.UserID]*ScopeSetting, error) {
	return s.GetByUsersAndScope(ctx, userIDs, domain.GlobalScope())
}

func (s *InMemoryScopeStore) Upsert(_ context.Context, setting *ScopeSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *setting
	if existing, ok := s.settings[setting.Key()]; ok {
		copied.CreatedAt = existing.CreatedAt
	}
	copied.UpdatedAt = time.Now()
	s.settings[setting.Key()] = &copied
	return nil
}

func (s *InMemoryScopeStore) Delete(_ context.Context, userID domain.UserID, scope domain.ScopeRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, ScopeKey{UserID: userID, Scope: scope})
	return nil
}

func (s *InMemoryScopeStore) ListByUser(_ context.Context, userID domain.UserID) ([]*ScopeSetting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ScopeSetting
	for key, setting := range s.settings {
		if key.UserID == userID {
			copied := *setting
			out = append(out, &copied)
		}
	}
	return out, nil
}
