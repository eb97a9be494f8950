package reveal

import (
	"cirvia/internal/identity"
	"cirvia/pkg/domain"
)

// Event payloads delivered to chat participants through the gateway. Shapes
// are part of the client contract; field names stay camelCase on the wire.

const (
	EventRevealed        = "identity-revealed"
	EventRevoked         = "identity-revoked"
	EventChanged         = "identity-changed"
	EventMutualConfirmed = "identity:mutual-confirmed"
	EventMutualRequested = "identity:mutual-requested"
)

// RevealedEvent announces a new disclosure.
type RevealedEvent struct {
	Event       string                     `json:"event"`
	ChatID      domain.ChatID              `json:"chatId"`
	RevealedBy  domain.UserID              `json:"revealedBy"`
	NewIdentity *identity.ResolvedIdentity `json:"newIdentity"`
}

// RevokedEvent announces a disclosure being taken back. RefreshMessages tells
// clients to re-render historical messages with the new identity; stored
// message text is untouched.
type RevokedEvent struct {
	Event           string                     `json:"event"`
	ChatID          domain.ChatID              `json:"chatId"`
	RevokedBy       domain.UserID              `json:"revokedBy"`
	NewIdentity     *identity.ResolvedIdentity `json:"newIdentity"`
	RefreshMessages bool                       `json:"refreshMessages"`
}

// ChangedEvent is the generic companion fired on every disclosure change.
type ChangedEvent struct {
	Event       string                     `json:"event"`
	ChatID      domain.ChatID              `json:"chatId"`
	ChangedBy   domain.UserID              `json:"changedBy"`
	Reason      string                     `json:"reason"` // "reveal" or "revoke"
	NewIdentity *identity.ResolvedIdentity `json:"newIdentity"`
}

// MutualConfirmedEvent fires when a mutual reveal is accepted.
type MutualConfirmedEvent struct {
	Type              string        `json:"type"`
	ChatID            domain.ChatID `json:"chatId"`
	ConfirmedByUserID domain.UserID `json:"confirmedByUserId"`
}

// MutualRequestedNotification goes to the other party via the notifier, not
// the chat event stream.
type MutualRequestedNotification struct {
	Type              string        `json:"type"`
	ChatID            domain.ChatID `json:"chatId"`
	RequestedByUserID domain.UserID `json:"requestedByUserId"`
}
