package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"cirvia/internal/identity"
	"cirvia/internal/identity/avatar"
	"cirvia/pkg/domain"
	dErrors "cirvia/pkg/domain-errors"
)

type ResolverSuite struct {
	suite.Suite
	profiles *identity.InMemoryProfileStore
	scopes   *identity.InMemoryScopeStore
	service  *Service

	viewer  domain.UserID
	subject domain.UserID
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	s.profiles = identity.NewInMemoryProfileStore()
	s.scopes = identity.NewInMemoryScopeStore()
	s.service = New(s.profiles, s.scopes, avatar.StaticSigner{BaseURL: "https://cdn.test"})

	s.viewer = domain.NewUserID()
	s.subject = domain.NewUserID()
	s.profiles.Put(&identity.Profile{
		UserID:            s.subject,
		RealName:          "Ada Lovelace",
		ChosenName:        "Nightjar",
		AbstractName:      "Amber Fox",
		AbstractAvatarKey: "abstract/fox.png",
		ProfilePhotoKey:   "photos/ada.jpg",
		AgeRange:          "25-34",
		Gender:            "female",
		City:              "London",
		State:             "LDN",
		Bio:               "mathematician",
	})
}

func (s *ResolverSuite) upsert(setting *identity.ScopeSetting) {
	s.Require().NoError(s.scopes.Upsert(context.Background(), setting))
}

// =============================================================================
// Self-view
// =============================================================================

func (s *ResolverSuite) TestSelfViewAlwaysFull() {
	ctx := context.Background()

	// Even an explicit ANONYMOUS global default must not hide a user from
	// themselves.
	s.upsert(identity.NewDefaultAnonymousSetting(s.subject, time.Now()))

	resolved, err := s.service.ResolveIdentity(ctx, s.subject, s.subject, domain.GlobalScope())
	s.Require().NoError(err)
	s.Equal(domain.LevelFull, resolved.IdentityLevel)
	s.Equal("Ada Lovelace", resolved.DisplayName)
	s.Equal("mathematician", resolved.Bio)
	s.Equal("https://cdn.test/photos/ada.jpg", resolved.AvatarURL)
}

// =============================================================================
// Fallback chain
// =============================================================================

func (s *ResolverSuite) TestFallbackToGlobalDefault() {
	ctx := context.Background()
	chatScope := domain.ChatScope(domain.NewChatID())

	s.upsert(&identity.ScopeSetting{
		UserID:       s.subject,
		Scope:        domain.GlobalScope(),
		Level:        domain.LevelPartial,
		ShowAgeRange: true,
	})

	resolved, err := s.service.ResolveIdentity(ctx, s.viewer, s.subject, chatScope)
	s.Require().NoError(err)
	s.Equal(domain.LevelPartial, resolved.IdentityLevel)
	s.Equal("25-34", resolved.AgeRange)
}

func (s *ResolverSuite) TestAutoCreatesAnonymousDefaultOnce() {
	ctx := context.Background()

	resolved, err := s.service.ResolveIdentity(ctx, s.viewer, s.subject, domain.GlobalScope())
	s.Require().NoError(err)
	s.Equal(domain.LevelAnonymous, resolved.IdentityLevel)
	s.Equal("Amber Fox", resolved.DisplayName)

	created, err := s.scopes.GetGlobalDefault(ctx, s.subject)
	s.Require().NoError(err)
	firstCreatedAt := created.CreatedAt

	// A second resolution reuses the stored default instead of re-creating.
	_, err = s.service.ResolveIdentity(ctx, s.viewer, s.subject, domain.GlobalScope())
	s.Require().NoError(err)
	again, err := s.scopes.GetGlobalDefault(ctx, s.subject)
	s.Require().NoError(err)
	s.Equal(firstCreatedAt, again.CreatedAt)
}

func (s *ResolverSuite) TestExactScopeWinsOverDefault() {
	ctx := context.Background()
	chatID := domain.NewChatID()

	s.upsert(identity.NewDefaultAnonymousSetting(s.subject, time.Now()))
	s.upsert(identity.NewChatOverrideSetting(s.subject, chatID, time.Now()))

	resolved, err := s.service.ResolveIdentity(ctx, s.viewer, s.subject, domain.ChatScope(chatID))
	s.Require().NoError(err)
	s.Equal(domain.LevelFull, resolved.IdentityLevel)
	s.Equal("Ada Lovelace", resolved.DisplayName)
}

func (s *ResolverSuite) TestMissingProfileIsNotFound() {
	_, err := s.service.ResolveIdentity(context.Background(), s.viewer, domain.NewUserID(), domain.GlobalScope())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ResolverSuite) TestInvalidScopeRejected() {
	_, err := s.service.ResolveIdentity(context.Background(), s.viewer, s.subject,
		domain.ScopeRef{Type: domain.ScopeChat})
	s.Error(err)
}

// =============================================================================
// Level projection
// =============================================================================

func (s *ResolverSuite) TestAnonymousProjectionHidesEverythingLocational() {
	ctx := context.Background()

	// Toggles that are illegal at ANONYMOUS must stay inert even if a row
	// carries them.
	s.upsert(&identity.ScopeSetting{
		UserID:       s.subject,
		Scope:        domain.GlobalScope(),
		Level:        domain.LevelAnonymous,
		ShowAgeRange: true,
		ShowCity:     true,
		ShowBio:      true,
	})

	resolved, err := s.service.ResolveIdentity(ctx, s.viewer, s.subject, domain.GlobalScope())
	s.Require().NoError(err)
	s.Equal("Amber Fox", resolved.DisplayName)
	s.Equal("https://cdn.test/abstract/fox.png", resolved.AvatarURL)
	s.Equal("25-34", resolved.AgeRange)
	s.Empty(resolved.City)
	s.Empty(resolved.State)
	s.Empty(resolved.Bio)
}

func (s *ResolverSuite) TestPartialProjection() {
	ctx := context.Background()

	s.upsert(&identity.ScopeSetting{
		UserID:    s.subject,
		Scope:     domain.GlobalScope(),
		Level:     domain.LevelPartial,
		ShowCity:  true,
		ShowState: true,
	})

	resolved, err := s.service.ResolveIdentity(ctx, s.viewer, s.subject, domain.GlobalScope())
	s.Require().NoError(err)
	s.Equal("Nightjar", resolved.DisplayName)
	s.Equal("London", resolved.City)
	s.Equal("LDN", resolved.State)
	s.Empty(resolved.Bio, "partial never exposes bio")
	s.Equal("https://cdn.test/abstract/fox.png", resolved.AvatarURL, "partial never exposes the photo")
}

func (s *ResolverSuite) TestFullProjectionFollowsToggles() {
	ctx := context.Background()

	s.upsert(&identity.ScopeSetting{
		UserID:           s.subject,
		Scope:            domain.GlobalScope(),
		Level:            domain.LevelFull,
		ShowGender:       true,
		ShowBio:          true,
		ShowProfilePhoto: true,
	})

	resolved, err := s.service.ResolveIdentity(ctx, s.viewer, s.subject, domain.GlobalScope())
	s.Require().NoError(err)
	s.Equal(domain.LevelFull, resolved.IdentityLevel)
	s.Equal("Ada Lovelace", resolved.DisplayName)
	s.Equal("female", resolved.Gender)
	s.Equal("mathematician", resolved.Bio)
	s.Equal("https://cdn.test/photos/ada.jpg", resolved.AvatarURL)
	s.Empty(resolved.City, "untoggled fields stay hidden at FULL")
}

// =============================================================================
// Bulk resolution
// =============================================================================

func (s *ResolverSuite) TestBulkResolvesAndOmitsMissingProfiles() {
	ctx := context.Background()
	other := domain.NewUserID()
	missing := domain.NewUserID()
	s.profiles.Put(&identity.Profile{UserID: other, AbstractName: "Quiet Heron"})

	result, err := s.service.ResolveIdentityBulk(ctx, s.viewer,
		[]domain.UserID{s.subject, other, missing, s.subject}, domain.GlobalScope())
	s.Require().NoError(err)

	s.Len(result, 2)
	s.Contains(result, s.subject)
	s.Contains(result, other)
	s.NotContains(result, missing)
	s.Equal("Quiet Heron", result[other].DisplayName)

	// Both subjects got an auto-created ANONYMOUS default.
	for _, id := range []domain.UserID{s.subject, other} {
		setting, err := s.scopes.GetGlobalDefault(ctx, id)
		s.Require().NoError(err)
		s.Equal(domain.LevelAnonymous, setting.Level)
	}
}

func (s *ResolverSuite) TestBulkSelfViewStaysFull() {
	ctx := context.Background()
	s.profiles.Put(&identity.Profile{UserID: s.viewer, RealName: "Viewer", AbstractName: "Pale Owl"})

	result, err := s.service.ResolveIdentityBulk(ctx, s.viewer,
		[]domain.UserID{s.viewer, s.subject}, domain.GlobalScope())
	s.Require().NoError(err)
	s.Equal(domain.LevelFull, result[s.viewer].IdentityLevel)
	s.Equal(domain.LevelAnonymous, result[s.subject].IdentityLevel)
}

// =============================================================================
// Scope CRUD
// =============================================================================

func (s *ResolverSuite) TestUpdateUserIdentityScope() {
	ctx := context.Background()
	cirviaScope := domain.CirviaScope(domain.NewCirviaID())

	setting, err := s.service.UpdateUserIdentityScope(ctx, s.subject, cirviaScope, identity.ScopeUpdate{
		Level:    domain.LevelPartial,
		ShowCity: true,
	})
	s.Require().NoError(err)
	s.Equal(domain.LevelPartial, setting.Level)

	stored, err := s.scopes.GetByUserAndScope(ctx, s.subject, cirviaScope)
	s.Require().NoError(err)
	s.True(stored.ShowCity)
}

func (s *ResolverSuite) TestUpdateRejectsIllegalToggleCombination() {
	_, err := s.service.UpdateUserIdentityScope(context.Background(), s.subject, domain.GlobalScope(),
		identity.ScopeUpdate{Level: domain.LevelAnonymous, ShowCity: true})
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func (s *ResolverSuite) TestListUserIdentityScopes() {
	ctx := context.Background()
	s.upsert(identity.NewDefaultAnonymousSetting(s.subject, time.Now()))
	s.upsert(identity.NewChatOverrideSetting(s.subject, domain.NewChatID(), time.Now()))

	settings, err := s.service.ListUserIdentityScopes(ctx, s.subject)
	s.Require().NoError(err)
	s.Len(settings, 2)
	// No chat directory wired: listings carry no context.
	for _, listed := range settings {
		s.Empty(listed.Context.ChatParticipants)
	}
}

// chatDirectoryStub serves one chat's membership.
type chatDirectoryStub struct {
	chatID       domain.ChatID
	participants []domain.UserID
}

func (d chatDirectoryStub) Participants(_ context.Context, chatID domain.ChatID) ([]domain.UserID, error) {
	if chatID != d.chatID {
		return nil, dErrors.New(dErrors.CodeNotFound, "chat not found")
	}
	return d.participants, nil
}

func (s *ResolverSuite) TestListScopesDecoratesChatOverrides() {
	ctx := context.Background()
	chatID := domain.NewChatID()

	s.profiles.Put(&identity.Profile{UserID: s.viewer, RealName: "Grace Hopper", AbstractName: "Quiet Heron"})
	service := New(s.profiles, s.scopes, avatar.StaticSigner{BaseURL: "https://cdn.test"},
		WithChatDirectory(chatDirectoryStub{chatID: chatID, participants: []domain.UserID{s.subject, s.viewer}}))

	// The subject disclosed in this chat; the other participant did not.
	s.upsert(identity.NewChatOverrideSetting(s.subject, chatID, time.Now()))

	listed, err := service.ListUserIdentityScopes(ctx, s.subject)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)

	// Self resolves FULL, the counterpart resolves through their own scope
	// chain: the listing never shows more than the lister may see.
	s.Equal([]string{"Ada Lovelace", "Quiet Heron"}, listed[0].Context.ChatParticipants)
}

func (s *ResolverSuite) TestListScopesToleratesMissingChat() {
	ctx := context.Background()

	service := New(s.profiles, s.scopes, avatar.StaticSigner{BaseURL: "https://cdn.test"},
		WithChatDirectory(chatDirectoryStub{chatID: domain.NewChatID()}))
	s.upsert(identity.NewChatOverrideSetting(s.subject, domain.NewChatID(), time.Now()))

	listed, err := service.ListUserIdentityScopes(ctx, s.subject)
	s.Require().NoError(err)
	s.Require().Len(listed, 1)
	s.Empty(listed[0].Context.ChatParticipants)
}
