package identity

import (
	"strings"
	"unicode/utf8"

	"cirvia/pkg/domain"
	dErrors "cirvia/pkg/domain-errors"
)

// commonRealNames blocks chosen names that read as ordinary real names, to
// discourage impersonation inside an identity meant to be pseudonymous.
var commonRealNames = map[string]bool{
	"john":    true,
	"jane":    true,
	"michael": true,
	"sarah":   true,
	"david":   true,
	"emma":    true,
}

var profanity = []string{"damn", "hell", "shit", "fuck"}

func hasProfanity(text string) bool {
	normalized := strings.ToLower(text)
	for _, w := range profanity {
		if strings.Contains(normalized, w) {
			return true
		}
	}
	return false
}

// ScopeUpdate is the validated payload for a scope setting change. The
// ShowRealName and UseChosenName toggles exist only in the payload: they are
// checked against the level here and never persisted.
type ScopeUpdate struct {
	Level            domain.IdentityLevel
	ShowAgeRange     bool
	ShowGender       bool
	ShowCity         bool
	ShowState        bool
	ShowBio          bool
	ShowProfilePhoto bool
	ShowRealName     bool
	UseChosenName    bool
	CustomAvatarKey  string
}

// ValidateScopeUpdate enforces which toggles are legal at which identity
// level, and that the profile can support the requested level. Pure; no
// partial application — any violation rejects the whole update.
func ValidateScopeUpdate(update ScopeUpdate, profile *Profile) error {
	if !update.Level.IsValid() {
		return dErrors.New(dErrors.CodeBadRequest, "invalid identity level")
	}

	switch update.Level {
	case domain.LevelAnonymous:
		if update.ShowCity || update.ShowState || update.ShowProfilePhoto || update.ShowRealName || update.UseChosenName {
			return dErrors.New(dErrors.CodeBadRequest, "ANONYMOUS only allows showAgeRange and showGender")
		}
	case domain.LevelPartial:
		if update.ShowProfilePhoto || update.ShowRealName {
			return dErrors.New(dErrors.CodeBadRequest, "PARTIAL cannot enable showProfilePhoto or showRealName")
		}
	case domain.LevelFull:
		hasChosen := profile != nil && strings.TrimSpace(profile.ChosenName) != ""
		hasReal := profile != nil && strings.TrimSpace(profile.RealName) != ""
		if !hasChosen && !hasReal {
			return dErrors.New(dErrors.CodeBadRequest, "FULL requires chosenName or realName on profile")
		}
	}

	return nil
}

// ValidateNameConstraints checks the length and content rules for profile
// names. Empty names are treated as unset and skipped. Lengths count
// characters, not bytes, so multibyte names get the same budget.
func ValidateNameConstraints(chosenName, realName string) error {
	if chosenName != "" {
		if n := utf8.RuneCountInString(chosenName); n < 2 || n > 30 {
			return dErrors.New(dErrors.CodeBadRequest, "chosenName must be 2-30 chars")
		}
		if hasProfanity(chosenName) {
			return dErrors.New(dErrors.CodeBadRequest, "chosenName contains profanity")
		}
		if commonRealNames[strings.ToLower(chosenName)] {
			return dErrors.New(dErrors.CodeBadRequest, "chosenName cannot be a common real name")
		}
	}

	if realName != "" {
		if utf8.RuneCountInString(realName) > 50 {
			return dErrors.New(dErrors.CodeBadRequest, "realName must be 1-50 chars")
		}
	}

	return nil
}
