package reveal

import (
	"context"
	"sync"

	"cirvia/pkg/domain"
	"cirvia/pkg/platform/sentinel"
)

// InMemoryChatStore backs tests and local development with seeded chats.
type InMemoryChatStore struct {
	mu    sync.RWMutex
	chats map[domain.ChatID]*Chat
}

func NewInMemoryChatStore() *InMemoryChatStore {
	return &InMemoryChatStore{chats: make(map[domain.ChatID]*Chat)}
}

// Put seeds or replaces a chat.
func (s *InMemoryChatStore) Put(chat *Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *chat
	s.chats[chat.ID] = &copied
}

func (s *InMemoryChatStore) GetByID(_ context.Context, chatID domain.ChatID) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if chat, ok := s.chats[chatID]; ok {
		copied := *chat
		return &copied, nil
	}
	return nil, sentinel.ErrNotFound
}

// InMemoryStore keeps pair aggregates in a map keyed by the normalized pair.
type InMemoryStore struct {
	mu    sync.RWMutex
	pairs map[PairKey]*PairState
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{pairs: make(map[PairKey]*PairState)}
}

func (s *InMemoryStore) GetPair(_ context.Context, key PairKey) (*PairState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.pairs[key]; ok {
		return state.Clone(), nil
	}
	return &PairState{}, nil
}

func (s *InMemoryStore) SavePair(_ context.Context, key PairKey, state *PairState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[key] = state.Clone()
	return nil
}
