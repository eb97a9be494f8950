package notify

import (
	"context"
	"sync"

	"cirvia/pkg/domain"
)

// InMemoryNotifier collects notifications per user for tests and local runs.
type InMemoryNotifier struct {
	mu       sync.Mutex
	payloads map[domain.UserID][]any
}

func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{payloads: make(map[domain.UserID][]any)}
}

func (n *InMemoryNotifier) NotifyUser(_ context.Context, userID domain.UserID, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payloads[userID] = append(n.payloads[userID], payload)
	return nil
}

// For returns the notifications delivered to userID so far.
func (n *InMemoryNotifier) For(userID domain.UserID) []any {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]any, len(n.payloads[userID]))
	copy(out, n.payloads[userID])
	return out
}
