package domain

import dErrors "cirvia/pkg/domain-errors"

// IdentityLevel is an ordered disclosure tier gating which profile fields may
// be shown to other users.
type IdentityLevel string

const (
	LevelAnonymous IdentityLevel = "ANONYMOUS"
	LevelPartial   IdentityLevel = "PARTIAL"
	LevelFull      IdentityLevel = "FULL"
)

// validIdentityLevels is the single source of truth for valid levels.
var validIdentityLevels = map[IdentityLevel]bool{
	LevelAnonymous: true,
	LevelPartial:   true,
	LevelFull:      true,
}

// ParseIdentityLevel constructs an IdentityLevel from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseIdentityLevel(s string) (IdentityLevel, error) {
	l := IdentityLevel(s)
	if !l.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid identity level")
	}
	return l, nil
}

// IsValid checks if the level is one of the supported enum values.
func (l IdentityLevel) IsValid() bool {
	return validIdentityLevels[l]
}

func (l IdentityLevel) String() string {
	return string(l)
}
