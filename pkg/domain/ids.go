package domain

import (
	"github.com/google/uuid"

	dErrors "cirvia/pkg/domain-errors"
)

// Typed IDs keep user, chat, and cirvia identifiers from being mixed up at
// compile time. Construct via the Parse functions at trust boundaries; direct
// casting bypasses validation.
type (
	UserID   uuid.UUID
	ChatID   uuid.UUID
	CirviaID uuid.UUID
)

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id is not a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

// ParseUserID constructs a UserID from external input.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return UserID(uuid.Nil), err
	}
	return UserID(u), nil
}

// ParseChatID constructs a ChatID from external input.
func ParseChatID(s string) (ChatID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return ChatID(uuid.Nil), err
	}
	return ChatID(u), nil
}

// ParseCirviaID constructs a CirviaID from external input.
func ParseCirviaID(s string) (CirviaID, error) {
	u, err := parseUUID(s)
	if err != nil {
		return CirviaID(uuid.Nil), err
	}
	return CirviaID(u), nil
}

// NewUserID returns a random UserID. Intended for tests and seeding.
func NewUserID() UserID { return UserID(uuid.New()) }

// NewChatID returns a random ChatID. Intended for tests and seeding.
func NewChatID() ChatID { return ChatID(uuid.New()) }

// NewCirviaID returns a random CirviaID. Intended for tests and seeding.
func NewCirviaID() CirviaID { return CirviaID(uuid.New()) }

func (id UserID) String() string   { return uuid.UUID(id).String() }
func (id ChatID) String() string   { return uuid.UUID(id).String() }
func (id CirviaID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ChatID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id CirviaID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id UserID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id ChatID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id CirviaID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *UserID) UnmarshalText(b []byte) error {
	parsed, err := ParseUserID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ChatID) UnmarshalText(b []byte) error {
	parsed, err := ParseChatID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *CirviaID) UnmarshalText(b []byte) error {
	parsed, err := ParseCirviaID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
