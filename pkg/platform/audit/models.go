package audit

import (
	"context"
	"time"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Action    Action         `json:"action"`
	ActorID   string         `json:"actor_id"`
	SubjectID string         `json:"subject_id,omitempty"`
	ChatID    string         `json:"chat_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Action names an auditable operation.
type Action string

const (
	// Reveal state machine events
	ActionReveal              Action = "chat.identity.reveal"
	ActionRequestMutualReveal Action = "chat.identity.request_mutual_reveal"
	ActionAcceptMutualReveal  Action = "chat.identity.accept_mutual_reveal"
	ActionRevoke              Action = "chat.identity.revoke"

	// Scope setting events
	ActionScopeUpdated Action = "identity.scope.updated"
)

// Store is the persistence boundary for audit events. Implementations must be
// append-only.
type Store interface {
	Append(ctx context.Context, event Event) error
}
