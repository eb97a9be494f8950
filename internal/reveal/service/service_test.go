package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"cirvia/internal/identity"
	"cirvia/internal/identity/avatar"
	identityservice "cirvia/internal/identity/service"
	"cirvia/internal/notify"
	"cirvia/internal/reveal"
	"cirvia/internal/reveal/gateway"
	"cirvia/pkg/domain"
	dErrors "cirvia/pkg/domain-errors"
	"cirvia/pkg/platform/audit"
	"cirvia/pkg/platform/sentinel"
)

type RevealServiceSuite struct {
	suite.Suite
	chats      *reveal.InMemoryChatStore
	store      *reveal.InMemoryStore
	scopes     *identity.InMemoryScopeStore
	profiles   *identity.InMemoryProfileStore
	resolver   *identityservice.Service
	bus        *gateway.Gateway
	notifier   *notify.InMemoryNotifier
	auditStore *audit.InMemoryStore
	service    *Service

	chat  *reveal.Chat
	userA domain.UserID
	userB domain.UserID
}

func TestRevealServiceSuite(t *testing.T) {
	suite.Run(t, new(RevealServiceSuite))
}

func (s *RevealServiceSuite) SetupTest() {
	s.chats = reveal.NewInMemoryChatStore()
	s.store = reveal.NewInMemoryStore()
	s.scopes = identity.NewInMemoryScopeStore()
	s.profiles = identity.NewInMemoryProfileStore()
	s.resolver = identityservice.New(s.profiles, s.scopes, avatar.StaticSigner{BaseURL: "https://cdn.test"})
	s.bus = gateway.New()
	s.notifier = notify.NewInMemoryNotifier()
	s.auditStore = audit.NewInMemoryStore()

	s.service = New(s.chats, s.store, s.scopes, s.resolver,
		WithEventBus(s.bus),
		WithNotifier(s.notifier),
		WithAuditPublisher(audit.NewPublisher(s.auditStore)),
	)

	s.userA = domain.NewUserID()
	s.userB = domain.NewUserID()
	s.chat = &reveal.Chat{
		ID:             domain.NewChatID(),
		Type:           reveal.ChatOneToOne,
		ParticipantAID: s.userA,
		ParticipantBID: s.userB,
	}
	s.chats.Put(s.chat)

	s.profiles.Put(&identity.Profile{
		UserID:       s.userA,
		RealName:     "Ada Lovelace",
		AbstractName: "Amber Fox",
		Bio:          "mathematician",
	})
	s.profiles.Put(&identity.Profile{
		UserID:       s.userB,
		RealName:     "Grace Hopper",
		AbstractName: "Quiet Heron",
	})
}

// =============================================================================
// Guards
// =============================================================================

func (s *RevealServiceSuite) TestRejectsGroupChat() {
	group := &reveal.Chat{
		ID:             domain.NewChatID(),
		Type:           reveal.ChatGroup,
		ParticipantAID: s.userA,
		ParticipantBID: s.userB,
	}
	s.chats.Put(group)

	_, err := s.service.Reveal(context.Background(), group.ID, s.userA)
	s.True(dErrors.HasCode(err, dErrors.CodeUnsupported))

	// No state was written.
	state, err := s.store.GetPair(context.Background(),
		reveal.NewPairKey(group.ID, s.userA, s.userB))
	s.Require().NoError(err)
	s.Nil(state.Outbound(s.userA))
}

func (s *RevealServiceSuite) TestRejectsOutsider() {
	outsider := domain.NewUserID()
	_, err := s.service.Reveal(context.Background(), s.chat.ID, outsider)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *RevealServiceSuite) TestRejectsUnknownChat() {
	_, err := s.service.Reveal(context.Background(), domain.NewChatID(), s.userA)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// =============================================================================
// Reveal
// =============================================================================

func (s *RevealServiceSuite) TestRevealDisclosesToOtherParty() {
	ctx := context.Background()

	record, err := s.service.Reveal(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)
	s.Equal(reveal.StatusOneSidedAToB, record.Status)

	// B now sees A at FULL in this chat; A still sees B anonymous.
	resolved, err := s.resolver.ResolveIdentity(ctx, s.userB, s.userA, domain.ChatScope(s.chat.ID))
	s.Require().NoError(err)
	s.Equal(domain.LevelFull, resolved.IdentityLevel)
	s.Equal("Ada Lovelace", resolved.DisplayName)

	reverse, err := s.resolver.ResolveIdentity(ctx, s.userA, s.userB, domain.ChatScope(s.chat.ID))
	s.Require().NoError(err)
	s.Equal(domain.LevelAnonymous, reverse.IdentityLevel)

	events := s.auditStore.ByAction(audit.ActionReveal)
	s.Require().Len(events, 1)
	s.Equal(s.userA.String(), events[0].ActorID)
}

func (s *RevealServiceSuite) TestSecondRevealUpgradesToMutual() {
	ctx := context.Background()

	_, err := s.service.Reveal(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)
	record, err := s.service.Reveal(ctx, s.chat.ID, s.userB)
	s.Require().NoError(err)
	s.Equal(reveal.StatusMutualConfirm, record.Status)

	state, err := s.store.GetPair(ctx, reveal.NewPairKey(s.chat.ID, s.userA, s.userB))
	s.Require().NoError(err)
	s.Equal(reveal.StatusMutualConfirm, state.Outbound(s.userA).Status)
	s.Equal(reveal.StatusMutualConfirm, state.Outbound(s.userB).Status)

	// Both sides now resolve each other at FULL.
	forBtoA, err := s.resolver.ResolveIdentity(ctx, s.userB, s.userA, domain.ChatScope(s.chat.ID))
	s.Require().NoError(err)
	s.Equal(domain.LevelFull, forBtoA.IdentityLevel)
	forAtoB, err := s.resolver.ResolveIdentity(ctx, s.userA, s.userB, domain.ChatScope(s.chat.ID))
	s.Require().NoError(err)
	s.Equal(domain.LevelFull, forAtoB.IdentityLevel)
}

// =============================================================================
// Mutual request / accept
// =============================================================================

func (s *RevealServiceSuite) TestRequestMutualNotifiesOtherParty() {
	ctx := context.Background()

	record, err := s.service.RequestMutualReveal(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)
	s.Equal(reveal.StatusMutualPending, record.Status)

	// Nothing disclosed yet.
	resolved, err := s.resolver.ResolveIdentity(ctx, s.userB, s.userA, domain.ChatScope(s.chat.ID))
	s.Require().NoError(err)
	s.Equal(domain.LevelAnonymous, resolved.IdentityLevel)

	payloads := s.notifier.For(s.userB)
	s.Require().Len(payloads, 1)
	notification, ok := payloads[0].(reveal.MutualRequestedNotification)
	s.Require().True(ok)
	s.Equal(reveal.EventMutualRequested, notification.Type)
	s.Equal(s.userA, notification.RequestedByUserID)
	s.Empty(s.notifier.For(s.userA))
}

func (s *RevealServiceSuite) TestAcceptMutualConfirmsBothDirections() {
	ctx := context.Background()

	_, err := s.service.RequestMutualReveal(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)
	record, err := s.service.AcceptMutualReveal(ctx, s.chat.ID, s.userB)
	s.Require().NoError(err)
	s.Equal(reveal.StatusMutualConfirm, record.Status)

	for _, pair := range [][2]domain.UserID{{s.userB, s.userA}, {s.userA, s.userB}} {
		resolved, err := s.resolver.ResolveIdentity(ctx, pair[0], pair[1], domain.ChatScope(s.chat.ID))
		s.Require().NoError(err)
		s.Equal(domain.LevelFull, resolved.IdentityLevel)
	}

	s.Len(s.auditStore.ByAction(audit.ActionAcceptMutualReveal), 1)
}

func (s *RevealServiceSuite) TestAcceptWithoutRequestFails() {
	_, err := s.service.AcceptMutualReveal(context.Background(), s.chat.ID, s.userB)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *RevealServiceSuite) TestAcceptTwiceFails() {
	ctx := context.Background()
	_, err := s.service.RequestMutualReveal(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)
	_, err = s.service.AcceptMutualReveal(ctx, s.chat.ID, s.userB)
	s.Require().NoError(err)

	_, err = s.service.AcceptMutualReveal(ctx, s.chat.ID, s.userB)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

// =============================================================================
// Revoke
// =============================================================================

func (s *RevealServiceSuite) TestRevokeRevertsResolution() {
	ctx := context.Background()

	_, err := s.service.Reveal(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)
	record, err := s.service.RevokeReveal(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)
	s.Equal(reveal.StatusRevokedByA, record.Status)

	resolved, err := s.resolver.ResolveIdentity(ctx, s.userB, s.userA, domain.ChatScope(s.chat.ID))
	s.Require().NoError(err)
	s.Equal(domain.LevelAnonymous, resolved.IdentityLevel)
	s.Equal("Amber Fox", resolved.DisplayName)
}

func (s *RevealServiceSuite) TestRevokeMutualDowngradesBothSides() {
	ctx := context.Background()

	_, err := s.service.Reveal(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)
	_, err = s.service.Reveal(ctx, s.chat.ID, s.userB)
	s.Require().NoError(err)

	record, err := s.service.RevokeReveal(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)
	s.Equal(reveal.StatusRevokedByA, record.Status)

	state, err := s.store.GetPair(ctx, reveal.NewPairKey(s.chat.ID, s.userA, s.userB))
	s.Require().NoError(err)
	s.Equal(reveal.StatusRevokedMutual, state.Outbound(s.userB).Status)

	// Both parties are back to their defaults.
	for _, pair := range [][2]domain.UserID{{s.userB, s.userA}, {s.userA, s.userB}} {
		resolved, err := s.resolver.ResolveIdentity(ctx, pair[0], pair[1], domain.ChatScope(s.chat.ID))
		s.Require().NoError(err)
		s.Equal(domain.LevelAnonymous, resolved.IdentityLevel)
	}
}

func (s *RevealServiceSuite) TestRevokeWithoutRevealFails() {
	_, err := s.service.RevokeReveal(context.Background(), s.chat.ID, s.userA)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

// =============================================================================
// Status
// =============================================================================

func (s *RevealServiceSuite) TestStatusProjection() {
	ctx := context.Background()

	status, err := s.service.GetRevealStatus(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)
	s.Equal(reveal.StatusNone, status.Status)
	s.True(status.CanReveal)
	s.False(status.CanRevoke)
	s.Require().NotNil(status.OtherIdentity)
	s.Equal("Quiet Heron", status.OtherIdentity.DisplayName)

	_, err = s.service.Reveal(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)

	status, err = s.service.GetRevealStatus(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)
	s.Equal(reveal.StatusOneSidedAToB, status.Status)
	s.False(status.CanReveal)
	s.True(status.CanRevoke)

	_, err = s.service.RevokeReveal(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)

	status, err = s.service.GetRevealStatus(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)
	s.Equal(reveal.StatusRevokedByA, status.Status)
	s.True(status.CanReveal)
	s.False(status.CanRevoke)
}

// =============================================================================
// End to end with event delivery
// =============================================================================

func (s *RevealServiceSuite) TestEndToEndEventsReachOnlyParticipants() {
	ctx := context.Background()

	subB, err := s.bus.Subscribe(s.chat, s.userB)
	s.Require().NoError(err)
	defer subB.Close()

	_, err = s.bus.Subscribe(s.chat, domain.NewUserID())
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = s.service.Reveal(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)

	revealed, ok := (<-subB.C).(reveal.RevealedEvent)
	s.Require().True(ok)
	s.Equal(reveal.EventRevealed, revealed.Event)
	s.Equal(s.userA, revealed.RevealedBy)
	s.Require().NotNil(revealed.NewIdentity)
	s.Equal("Ada Lovelace", revealed.NewIdentity.DisplayName)
	s.Equal(domain.LevelFull, revealed.NewIdentity.IdentityLevel)

	changed, ok := (<-subB.C).(reveal.ChangedEvent)
	s.Require().True(ok)
	s.Equal("reveal", changed.Reason)

	_, err = s.service.RevokeReveal(ctx, s.chat.ID, s.userA)
	s.Require().NoError(err)

	revoked, ok := (<-subB.C).(reveal.RevokedEvent)
	s.Require().True(ok)
	s.Equal(reveal.EventRevoked, revoked.Event)
	s.True(revoked.RefreshMessages)
	s.Require().NotNil(revoked.NewIdentity)
	s.Equal("Amber Fox", revoked.NewIdentity.DisplayName)

	changed, ok = (<-subB.C).(reveal.ChangedEvent)
	s.Require().True(ok)
	s.Equal("revoke", changed.Reason)
}

// =============================================================================
// Partial-failure unwinding
// =============================================================================

// failingScopes rejects writes so override failures can be injected.
type failingScopes struct {
	*identity.InMemoryScopeStore
	failUpsert bool
}

func (f *failingScopes) Upsert(ctx context.Context, setting *identity.ScopeSetting) error {
	if f.failUpsert {
		return errors.New("scope store unavailable")
	}
	return f.InMemoryScopeStore.Upsert(ctx, setting)
}

// failingPairStore rejects saves so pair-write failures can be injected.
type failingPairStore struct {
	*reveal.InMemoryStore
	failSave bool
}

func (f *failingPairStore) SavePair(ctx context.Context, key reveal.PairKey, state *reveal.PairState) error {
	if f.failSave {
		return errors.New("pair store unavailable")
	}
	return f.InMemoryStore.SavePair(ctx, key, state)
}

func (s *RevealServiceSuite) TestRevealOverrideFailureWritesNothing() {
	ctx := context.Background()
	broken := New(s.chats, s.store, &failingScopes{InMemoryScopeStore: s.scopes, failUpsert: true}, s.resolver)

	_, err := broken.Reveal(ctx, s.chat.ID, s.userA)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	// Neither the reveal record nor the override landed: the other party
	// still resolves the default identity.
	state, err := s.store.GetPair(ctx, reveal.NewPairKey(s.chat.ID, s.userA, s.userB))
	s.Require().NoError(err)
	s.Nil(state.Outbound(s.userA))

	resolved, err := s.resolver.ResolveIdentity(ctx, s.userB, s.userA, domain.ChatScope(s.chat.ID))
	s.Require().NoError(err)
	s.Equal("Amber Fox", resolved.DisplayName)
}

func (s *RevealServiceSuite) TestRevealSaveFailureRemovesFreshOverride() {
	ctx := context.Background()
	broken := New(s.chats, &failingPairStore{InMemoryStore: s.store, failSave: true}, s.scopes, s.resolver)

	_, err := broken.Reveal(ctx, s.chat.ID, s.userA)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	_, err = s.scopes.GetByUserAndScope(ctx, s.userA, domain.ChatScope(s.chat.ID))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RevealServiceSuite) TestFailedUpgradeKeepsPriorDisclosure() {
	ctx := context.Background()

	// B disclosed one-sidedly; A's reveal would upgrade to mutual but the
	// pair save fails. B's live override must survive the unwind.
	_, err := s.service.Reveal(ctx, s.chat.ID, s.userB)
	s.Require().NoError(err)

	broken := New(s.chats, &failingPairStore{InMemoryStore: s.store, failSave: true}, s.scopes, s.resolver)
	_, err = broken.Reveal(ctx, s.chat.ID, s.userA)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))

	_, err = s.scopes.GetByUserAndScope(ctx, s.userA, domain.ChatScope(s.chat.ID))
	s.ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.scopes.GetByUserAndScope(ctx, s.userB, domain.ChatScope(s.chat.ID))
	s.Require().NoError(err)

	state, err := s.store.GetPair(ctx, reveal.NewPairKey(s.chat.ID, s.userA, s.userB))
	s.Require().NoError(err)
	s.Nil(state.Outbound(s.userA))
	s.Require().NotNil(state.Outbound(s.userB))
	s.True(state.Outbound(s.userB).Status.IsOneSided())
}
