package identity

import (
	"context"

	"cirvia/pkg/domain"
)

// Stores are interface-driven so the resolver stays testable and persistence
// can swap between in-memory and Postgres without touching business code.

// ProfileStore supplies raw profiles. Owned by the profile subsystem.
type ProfileStore interface {
	// GetByUserID returns sentinel.ErrNotFound when no profile exists.
	GetByUserID(ctx context.Context, userID domain.UserID) (*Profile, error)

	// GetByUserIDs returns profiles for the given users in one batch. Users
	// without a profile are simply absent from the map.
	GetByUserIDs(ctx context.Context, userIDs []domain.UserID) (map[domain.UserID]*Profile, error)
}

// ScopeStore persists per-user, per-scope visibility settings.
type ScopeStore interface {
	// GetByUserAndScope returns sentinel.ErrNotFound when no exact setting
	// exists for the scope.
	GetByUserAndScope(ctx context.Context, userID domain.UserID, scope domain.ScopeRef) (*ScopeSetting, error)

	// GetGlobalDefault returns sentinel.ErrNotFound when the user has no
	// global default yet.
	GetGlobalDefault(ctx context.Context, userID domain.UserID) (*ScopeSetting, error)

	// CreateGlobalDefaultAnonymous creates the user's ANONYMOUS default. It is
	// idempotent: a concurrent or repeated create returns the existing row so
	// the exactly-one-default invariant holds.
	CreateGlobalDefaultAnonymous(ctx context.Context, userID domain.UserID) (*ScopeSetting, error)

	// GetByUsersAndScope batch-fetches exact settings for one scope.
	GetByUsersAndScope(ctx context.Context, userIDs []domain.UserID, scope domain.ScopeRef) (map[domain.UserID]*ScopeSetting, error)

	// GetGlobalDefaults batch-fetches global defaults.
	GetGlobalDefaults(ctx context.Context, userIDs []domain.UserID) (map[domain.UserID]*ScopeSetting, error)

	// Upsert creates or replaces a setting at its composite key.
	Upsert(ctx context.Context, setting *ScopeSetting) error

	// Delete removes a setting; deleting a missing key is a no-op.
	Delete(ctx context.Context, userID domain.UserID, scope domain.ScopeRef) error

	// ListByUser returns every setting the user has configured.
	ListByUser(ctx context.Context, userID domain.UserID) ([]*ScopeSetting, error)
}

// AvatarSigner turns a stored avatar key into a URL a client can load.
type AvatarSigner interface {
	ToSignedURL(ctx context.Context, key string) (string, error)
}
