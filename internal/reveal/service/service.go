// Package service implements the chat identity reveal state machine: the
// reveal / request-mutual / accept-mutual / revoke transitions of a 1:1 chat
// pair, plus the scope overrides, events, notifications, and audit records
// each transition produces.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"cirvia/internal/identity"
	"cirvia/internal/notify"
	"cirvia/internal/reveal"
	"cirvia/internal/reveal/metrics"
	"cirvia/pkg/domain"
	dErrors "cirvia/pkg/domain-errors"
	"cirvia/pkg/platform/audit"
	"cirvia/pkg/platform/sentinel"
	"cirvia/pkg/requestcontext"
)

// ScopeWriter mirrors reveal transitions into the identity scope store. The
// resolver's exact-scope lookup then observes the disclosure with no cache
// invalidation step.
type ScopeWriter interface {
	Upsert(ctx context.Context, setting *identity.ScopeSetting) error
	Delete(ctx context.Context, userID domain.UserID, scope domain.ScopeRef) error
}

// Resolver projects identities for event payloads and status reads.
type Resolver interface {
	ResolveIdentity(ctx context.Context, viewerID, subjectID domain.UserID, scope domain.ScopeRef) (*identity.ResolvedIdentity, error)
}

// EventBus fans a payload out to the chat's participants.
type EventBus interface {
	EmitToChat(ctx context.Context, chat *reveal.Chat, payload any)
}

// Status is the read projection returned by GetRevealStatus.
type Status struct {
	Status        reveal.Status              `json:"status"`
	CanReveal     bool                       `json:"canReveal"`
	CanRevoke     bool                       `json:"canRevoke"`
	OtherIdentity *identity.ResolvedIdentity `json:"otherIdentity"`
}

// Service drives the reveal state machine. Every mutating operation runs
// under a per-pair lock so coupled read-then-write transitions on the same
// chat pair never interleave.
type Service struct {
	chats    reveal.ChatStore
	store    reveal.Store
	scopes   ScopeWriter
	resolver Resolver
	bus      EventBus
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    *audit.Publisher
	tracer   trace.Tracer

	mu    sync.Mutex
	locks map[reveal.PairKey]*sync.Mutex
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(p *audit.Publisher) Option {
	return func(s *Service) { s.audit = p }
}

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithEventBus(bus EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

func New(chats reveal.ChatStore, store reveal.Store, scopes ScopeWriter, resolver Resolver, opts ...Option) *Service {
	s := &Service{
		chats:    chats,
		store:    store,
		scopes:   scopes,
		resolver: resolver,
		tracer:   otel.Tracer("cirvia/reveal"),
		locks:    make(map[reveal.PairKey]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockPair returns the mutex serializing transitions on one chat pair.
func (s *Service) lockPair(key reveal.PairKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[key] = l
	return l
}

// loadChat fetches the chat and authorizes the operation: reveal transitions
// exist only for 1:1 chats and only for their participants.
func (s *Service) loadChat(ctx context.Context, chatID domain.ChatID, actorID domain.UserID) (*reveal.Chat, domain.UserID, error) {
	chat, err := s.chats.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domain.UserID{}, dErrors.Newf(dErrors.CodeNotFound, "chat %s was not found", chatID)
		}
		return nil, domain.UserID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load chat")
	}
	if chat.Type != reveal.ChatOneToOne {
		return nil, domain.UserID{}, dErrors.New(dErrors.CodeUnsupported, "identity reveal is only available in one-to-one chats")
	}
	otherID, err := chat.OtherParticipant(actorID)
	if err != nil {
		return nil, domain.UserID{}, err
	}
	return chat, otherID, nil
}

func (s *Service) reject(err error) error {
	s.metrics.IncRejection(string(dErrors.CodeOf(err)))
	return err
}

// Reveal discloses the actor's identity to the other participant. If the
// other participant had already revealed one-sidedly, both directions upgrade
// to MUTUAL_CONFIRMED.
func (s *Service) Reveal(ctx context.Context, chatID domain.ChatID, actorID domain.UserID) (*reveal.Reveal, error) {
	ctx, span := s.tracer.Start(ctx, "reveal.reveal")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveTransitionLatency("reveal", time.Since(start)) }()

	chat, otherID, err := s.loadChat(ctx, chatID, actorID)
	if err != nil {
		return nil, s.reject(err)
	}

	key := reveal.NewPairKey(chat.ID, chat.ParticipantAID, chat.ParticipantBID)
	lock := s.lockPair(key)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.store.GetPair(ctx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reveal state")
	}

	now := requestcontext.Now(ctx)
	prior := state.Clone()
	outcome := state.ApplyReveal(chat, actorID, now)

	// Overrides go in before the pair save: a failure here persists nothing,
	// and a failed save removes the overrides again, so a one-sided record is
	// never left behind without its matching override.
	if err := s.scopes.Upsert(ctx, identity.NewChatOverrideSetting(actorID, chat.ID, now)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply scope override")
	}
	if outcome.UpgradedMutual {
		if err := s.scopes.Upsert(ctx, identity.NewChatOverrideSetting(otherID, chat.ID, now)); err != nil {
			s.removeOverride(ctx, actorID, chat.ID, prior.Outbound(actorID))
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply scope override")
		}
	}
	if err := s.store.SavePair(ctx, key, state); err != nil {
		s.removeOverride(ctx, actorID, chat.ID, prior.Outbound(actorID))
		if outcome.UpgradedMutual {
			s.removeOverride(ctx, otherID, chat.ID, prior.Outbound(otherID))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save reveal state")
	}

	newIdentity := s.resolveForEvent(ctx, otherID, actorID, chat.ID)
	s.emit(ctx, chat, reveal.RevealedEvent{
		Event:       reveal.EventRevealed,
		ChatID:      chat.ID,
		RevealedBy:  actorID,
		NewIdentity: newIdentity,
	})
	s.emit(ctx, chat, reveal.ChangedEvent{
		Event:       reveal.EventChanged,
		ChatID:      chat.ID,
		ChangedBy:   actorID,
		Reason:      "reveal",
		NewIdentity: newIdentity,
	})

	s.emitAudit(ctx, audit.ActionReveal, chat, actorID, otherID, map[string]any{
		"status": outcome.Record.Status.String(),
		"mutual": outcome.UpgradedMutual,
	})
	s.metrics.IncTransition("reveal", outcome.Record.Status.String())
	s.logTransition(ctx, "identity revealed", chat.ID, actorID, outcome.Record.Status)
	return outcome.Record, nil
}

// RequestMutualReveal asks the other participant to reveal in exchange.
// Nothing is disclosed until they accept; the other party gets a
// notification, not a chat event.
func (s *Service) RequestMutualReveal(ctx context.Context, chatID domain.ChatID, actorID domain.UserID) (*reveal.Reveal, error) {
	ctx, span := s.tracer.Start(ctx, "reveal.request_mutual")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveTransitionLatency("request_mutual", time.Since(start)) }()

	chat, otherID, err := s.loadChat(ctx, chatID, actorID)
	if err != nil {
		return nil, s.reject(err)
	}

	key := reveal.NewPairKey(chat.ID, chat.ParticipantAID, chat.ParticipantBID)
	lock := s.lockPair(key)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.store.GetPair(ctx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reveal state")
	}

	now := requestcontext.Now(ctx)
	record := state.ApplyMutualRequest(chat, actorID, now)
	if err := s.store.SavePair(ctx, key, state); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save reveal state")
	}

	if s.notifier != nil {
		notification := reveal.MutualRequestedNotification{
			Type:              reveal.EventMutualRequested,
			ChatID:            chat.ID,
			RequestedByUserID: actorID,
		}
		if err := s.notifier.NotifyUser(ctx, otherID, notification); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to notify mutual reveal request",
				"chat_id", chat.ID, "user_id", otherID, "error", err)
		}
	}

	s.emitAudit(ctx, audit.ActionRequestMutualReveal, chat, actorID, otherID, nil)
	s.metrics.IncTransition("request_mutual", record.Status.String())
	s.logTransition(ctx, "mutual reveal requested", chat.ID, actorID, record.Status)
	return record, nil
}

// AcceptMutualReveal confirms a pending mutual request from the other
// participant. Both directions become MUTUAL_CONFIRMED and both parties'
// chat overrides go to FULL.
func (s *Service) AcceptMutualReveal(ctx context.Context, chatID domain.ChatID, actorID domain.UserID) (*reveal.Reveal, error) {
	ctx, span := s.tracer.Start(ctx, "reveal.accept_mutual")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveTransitionLatency("accept_mutual", time.Since(start)) }()

	chat, otherID, err := s.loadChat(ctx, chatID, actorID)
	if err != nil {
		return nil, s.reject(err)
	}

	key := reveal.NewPairKey(chat.ID, chat.ParticipantAID, chat.ParticipantBID)
	lock := s.lockPair(key)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.store.GetPair(ctx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reveal state")
	}

	now := requestcontext.Now(ctx)
	prior := state.Clone()
	record, err := state.ApplyMutualAccept(chat, actorID, now)
	if err != nil {
		return nil, s.reject(err)
	}

	if err := s.scopes.Upsert(ctx, identity.NewChatOverrideSetting(actorID, chat.ID, now)); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply scope override")
	}
	if err := s.scopes.Upsert(ctx, identity.NewChatOverrideSetting(otherID, chat.ID, now)); err != nil {
		s.removeOverride(ctx, actorID, chat.ID, prior.Outbound(actorID))
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply scope override")
	}
	if err := s.store.SavePair(ctx, key, state); err != nil {
		s.removeOverride(ctx, actorID, chat.ID, prior.Outbound(actorID))
		s.removeOverride(ctx, otherID, chat.ID, prior.Outbound(otherID))
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save reveal state")
	}

	s.emit(ctx, chat, reveal.MutualConfirmedEvent{
		Type:              reveal.EventMutualConfirmed,
		ChatID:            chat.ID,
		ConfirmedByUserID: actorID,
	})

	s.emitAudit(ctx, audit.ActionAcceptMutualReveal, chat, actorID, otherID, nil)
	s.metrics.IncTransition("accept_mutual", record.Status.String())
	s.logTransition(ctx, "mutual reveal accepted", chat.ID, actorID, record.Status)
	return record, nil
}

// RevokeReveal takes back the actor's disclosure. A mutually confirmed
// reverse direction is downgraded with it; the actor's chat override is
// removed so resolution reverts to the global default.
func (s *Service) RevokeReveal(ctx context.Context, chatID domain.ChatID, actorID domain.UserID) (*reveal.Reveal, error) {
	ctx, span := s.tracer.Start(ctx, "reveal.revoke")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveTransitionLatency("revoke", time.Since(start)) }()

	chat, otherID, err := s.loadChat(ctx, chatID, actorID)
	if err != nil {
		return nil, s.reject(err)
	}

	key := reveal.NewPairKey(chat.ID, chat.ParticipantAID, chat.ParticipantBID)
	lock := s.lockPair(key)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.store.GetPair(ctx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reveal state")
	}

	now := requestcontext.Now(ctx)
	outcome, err := state.ApplyRevoke(chat, actorID, now)
	if err != nil {
		return nil, s.reject(err)
	}
	if err := s.store.SavePair(ctx, key, state); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save reveal state")
	}

	chatScope := domain.ChatScope(chat.ID)
	if err := s.scopes.Delete(ctx, actorID, chatScope); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove scope override")
	}
	if outcome.DowngradedPeer {
		if err := s.scopes.Delete(ctx, otherID, chatScope); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove scope override")
		}
	}

	newIdentity := s.resolveForEvent(ctx, otherID, actorID, chat.ID)
	s.emit(ctx, chat, reveal.RevokedEvent{
		Event:           reveal.EventRevoked,
		ChatID:          chat.ID,
		RevokedBy:       actorID,
		NewIdentity:     newIdentity,
		RefreshMessages: true,
	})
	s.emit(ctx, chat, reveal.ChangedEvent{
		Event:       reveal.EventChanged,
		ChatID:      chat.ID,
		ChangedBy:   actorID,
		Reason:      "revoke",
		NewIdentity: newIdentity,
	})

	s.emitAudit(ctx, audit.ActionRevoke, chat, actorID, otherID, map[string]any{
		"status":          outcome.Record.Status.String(),
		"downgraded_peer": outcome.DowngradedPeer,
	})
	s.metrics.IncTransition("revoke", outcome.Record.Status.String())
	s.logTransition(ctx, "identity reveal revoked", chat.ID, actorID, outcome.Record.Status)
	return outcome.Record, nil
}

// GetRevealStatus projects the actor's side of the pair: outbound status,
// which transitions are currently open, and the other participant's identity
// as the actor sees it right now.
func (s *Service) GetRevealStatus(ctx context.Context, chatID domain.ChatID, actorID domain.UserID) (*Status, error) {
	ctx, span := s.tracer.Start(ctx, "reveal.status")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveTransitionLatency("status", time.Since(start)) }()

	chat, otherID, err := s.loadChat(ctx, chatID, actorID)
	if err != nil {
		return nil, s.reject(err)
	}

	key := reveal.NewPairKey(chat.ID, chat.ParticipantAID, chat.ParticipantBID)
	state, err := s.store.GetPair(ctx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load reveal state")
	}

	status := reveal.StatusNone
	if outbound := state.Outbound(actorID); outbound != nil {
		status = outbound.Status
	}

	other, err := s.resolver.ResolveIdentity(ctx, actorID, otherID, domain.ChatScope(chat.ID))
	if err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return nil, err
	}

	return &Status{
		Status:        status,
		CanReveal:     status.CanReveal(),
		CanRevoke:     status.CanRevoke(),
		OtherIdentity: other,
	}, nil
}

// resolveForEvent projects the actor's identity as the other participant now
// sees it. Event emission proceeds without the identity when resolution
// fails; the state transition has already committed.
func (s *Service) resolveForEvent(ctx context.Context, viewerID, subjectID domain.UserID, chatID domain.ChatID) *identity.ResolvedIdentity {
	resolved, err := s.resolver.ResolveIdentity(ctx, viewerID, subjectID, domain.ChatScope(chatID))
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to resolve identity for event payload",
				"chat_id", chatID, "subject_id", subjectID, "error", err)
		}
		return nil
	}
	return resolved
}

// removeOverride takes back an override written earlier in a failed
// transition. An override that was already live before the transition (the
// prior record disclosed) is kept.
func (s *Service) removeOverride(ctx context.Context, userID domain.UserID, chatID domain.ChatID, prior *reveal.Reveal) {
	if prior != nil && prior.Status.Discloses() {
		return
	}
	if err := s.scopes.Delete(ctx, userID, domain.ChatScope(chatID)); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "failed to remove scope override while unwinding transition",
			"chat_id", chatID, "user_id", userID, "error", err)
	}
}

func (s *Service) emit(ctx context.Context, chat *reveal.Chat, payload any) {
	if s.bus != nil {
		s.bus.EmitToChat(ctx, chat, payload)
	}
}

func (s *Service) emitAudit(ctx context.Context, action audit.Action, chat *reveal.Chat, actorID, otherID domain.UserID, detail map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Emit(ctx, audit.Event{
		Action:    action,
		ActorID:   actorID.String(),
		SubjectID: otherID.String(),
		ChatID:    chat.ID.String(),
		Detail:    detail,
	})
}

func (s *Service) logTransition(ctx context.Context, msg string, chatID domain.ChatID, actorID domain.UserID, status reveal.Status) {
	if s.logger == nil {
		return
	}
	s.logger.InfoContext(ctx, msg,
		"chat_id", chatID,
		"actor_id", actorID,
		"status", status,
		"request_id", requestcontext.RequestID(ctx),
	)
}
