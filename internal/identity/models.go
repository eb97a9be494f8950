package identity

import (
	"time"

	"cirvia/pkg/domain"
)

// Profile holds a user's raw profile fields. Owned by the profile subsystem;
// read-only here. Optional fields are empty strings when unset.
type Profile struct {
	UserID            domain.UserID
	RealName          string
	ChosenName        string
	AbstractName      string
	AbstractAvatarKey string
	ProfilePhotoKey   string
	AgeRange          string
	Gender            string
	City              string
	State             string
	Bio               string
}

// ScopeKey uniquely identifies one scope setting. It is a comparable value
// type so stores never build keys by string concatenation.
type ScopeKey struct {
	UserID domain.UserID
	Scope  domain.ScopeRef
}

// ScopeSetting is a user's visibility configuration for one scope.
// Invariant: each user has exactly one GLOBAL_DEFAULT setting; it is
// auto-created as ANONYMOUS on first access when absent.
type ScopeSetting struct {
	UserID           domain.UserID
	Scope            domain.ScopeRef
	Level            domain.IdentityLevel
	ShowAgeRange     bool
	ShowGender       bool
	ShowCity         bool
	ShowState        bool
	ShowBio          bool
	ShowProfilePhoto bool
	CustomAvatarKey  string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Key returns the setting's composite key.
func (s *ScopeSetting) Key() ScopeKey {
	return ScopeKey{UserID: s.UserID, Scope: s.Scope}
}

// NewDefaultAnonymousSetting builds the setting every user starts from.
func NewDefaultAnonymousSetting(userID domain.UserID, now time.Time) *ScopeSetting {
	return &ScopeSetting{
		UserID:    userID,
		Scope:     domain.GlobalScope(),
		Level:     domain.LevelAnonymous,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewChatOverrideSetting builds the FULL disclosure override the reveal state
// machine writes for a chat scope. All toggles are on: a reveal discloses the
// whole identity for that chat.
func NewChatOverrideSetting(userID domain.UserID, chatID domain.ChatID, now time.Time) *ScopeSetting {
	return &ScopeSetting{
		UserID:           userID,
		Scope:            domain.ChatScope(chatID),
		Level:            domain.LevelFull,
		ShowAgeRange:     true,
		ShowGender:       true,
		ShowCity:         true,
		ShowState:        true,
		ShowBio:          true,
		ShowProfilePhoto: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ScopeContext is display context attached to a listed scope setting, telling
// the owner what a non-global override applies to.
type ScopeContext struct {
	ChatParticipants []string `json:"chatParticipants,omitempty"`
}

// ListedScope pairs a setting with its display context.
type ListedScope struct {
	Setting *ScopeSetting
	Context ScopeContext
}

// ResolvedIdentity is the projected identity a viewer sees for a subject.
// Derived, never stored, created fresh on every resolution.
type ResolvedIdentity struct {
	UserID        domain.UserID        `json:"userId"`
	DisplayName   string               `json:"displayName"`
	AvatarURL     string               `json:"avatarUrl"`
	IdentityLevel domain.IdentityLevel `json:"identityLevel"`
	AgeRange      string               `json:"ageRange,omitempty"`
	Gender        string               `json:"gender,omitempty"`
	City          string               `json:"city,omitempty"`
	State         string               `json:"state,omitempty"`
	Bio           string               `json:"bio,omitempty"`
}
