package reveal

import (
	"context"

	"cirvia/pkg/domain"
)

// ChatStore supplies chat entities. Chats are owned by the chat subsystem and
// read-only here.
type ChatStore interface {
	// GetByID returns sentinel.ErrNotFound when the chat does not exist.
	GetByID(ctx context.Context, chatID domain.ChatID) (*Chat, error)
}

// Store persists reveal pair aggregates. Both directional records of a pair
// are loaded and saved together so coupled transitions never interleave with
// a partial write.
type Store interface {
	// GetPair returns the pair aggregate, with nil directional records when
	// no reveal action has happened yet. It never fails for a missing pair.
	GetPair(ctx context.Context, key PairKey) (*PairState, error)

	// SavePair persists both directional records atomically.
	SavePair(ctx context.Context, key PairKey, state *PairState) error
}
