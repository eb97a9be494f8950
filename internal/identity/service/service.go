// Package service implements the identity scope resolution engine: it turns a
// raw profile plus a (viewer, subject, scope) triple into a projected,
// privacy-correct identity.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"cirvia/internal/identity"
	"cirvia/internal/identity/metrics"
	"cirvia/pkg/domain"
	dErrors "cirvia/pkg/domain-errors"
	"cirvia/pkg/platform/audit"
	"cirvia/pkg/platform/sentinel"
	"cirvia/pkg/requestcontext"
)

// ChatDirectory exposes chat membership so listed chat overrides can show who
// the override applies to. Optional; without it listings carry no chat context.
type ChatDirectory interface {
	Participants(ctx context.Context, chatID domain.ChatID) ([]domain.UserID, error)
}

// Service resolves projected identities. Results are computed fresh on every
// call and never cached, so scope mutations (including reveal overrides) are
// visible immediately.
type Service struct {
	profiles identity.ProfileStore
	scopes   identity.ScopeStore
	signer   identity.AvatarSigner
	chats    ChatDirectory
	logger   *slog.Logger
	metrics  *metrics.Metrics
	audit    *audit.Publisher
	tracer   trace.Tracer

	// createGroup collapses concurrent auto-creates of the same user's global
	// default into one store call.
	createGroup singleflight.Group
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

func WithChatDirectory(d ChatDirectory) Option {
	return func(s *Service) { s.chats = d }
}

func New(profiles identity.ProfileStore, scopes identity.ScopeStore, signer identity.AvatarSigner, opts ...Option) *Service {
	s := &Service{
		profiles: profiles,
		scopes:   scopes,
		signer:   signer,
		tracer:   otel.Tracer("cirvia/identity"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveIdentity returns the identity viewer sees for subject under the given
// scope. A user always sees their own full profile regardless of any scope
// setting.
func (s *Service) ResolveIdentity(ctx context.Context, viewerID, subjectID domain.UserID, scope domain.ScopeRef) (*identity.ResolvedIdentity, error) {
	ctx, span := s.tracer.Start(ctx, "identity.resolve")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveResolveLatency("resolve", time.Since(start)) }()

	if err := scope.Validate(); err != nil {
		return nil, err
	}

	profile, err := s.profiles.GetByUserID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "user %s was not found", subjectID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}

	if viewerID == subjectID {
		return s.resolveSelf(ctx, profile)
	}

	setting, err := s.lookupScope(ctx, subjectID, scope)
	if err != nil {
		return nil, err
	}
	return s.project(ctx, profile, setting)
}

// ResolveIdentityBulk resolves many subjects with one batched profile lookup,
// one batched exact-scope lookup, and one batched global-default lookup.
// Subjects without a profile are silently omitted.
func (s *Service) ResolveIdentityBulk(ctx context.Context, viewerID domain.UserID, subjectIDs []domain.UserID, scope domain.ScopeRef) (map[domain.UserID]*identity.ResolvedIdentity, error) {
	ctx, span := s.tracer.Start(ctx, "identity.resolve_bulk")
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveResolveLatency("resolve_bulk", time.Since(start)) }()

	if err := scope.Validate(); err != nil {
		return nil, err
	}

	unique := make([]domain.UserID, 0, len(subjectIDs))
	seen := make(map[domain.UserID]struct{}, len(subjectIDs))
	for _, id := range subjectIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}

	profiles, err := s.profiles.GetByUserIDs(ctx, unique)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profiles")
	}

	var exact map[domain.UserID]*identity.ScopeSetting
	if !scope.IsGlobal() {
		exact, err = s.scopes.GetByUsersAndScope(ctx, unique, scope)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load scope settings")
		}
	}
	defaults, err := s.scopes.GetGlobalDefaults(ctx, unique)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load default scope settings")
	}

	result := make(map[domain.UserID]*identity.ResolvedIdentity, len(unique))
	for _, subjectID := range unique {
		profile, ok := profiles[subjectID]
		if !ok {
			continue
		}

		if viewerID == subjectID {
			resolved, err := s.resolveSelf(ctx, profile)
			if err != nil {
				return nil, err
			}
			result[subjectID] = resolved
			continue
		}

		setting := exact[subjectID]
		if setting == nil {
			setting = defaults[subjectID]
		}
		if setting == nil {
			setting, err = s.createGlobalDefault(ctx, subjectID)
			if err != nil {
				return nil, err
			}
		}

		resolved, err := s.project(ctx, profile, setting)
		if err != nil {
			return nil, err
		}
		result[subjectID] = resolved
	}
	return result, nil
}

// GetUserIdentityScope exposes the fallback/auto-create chain for callers that
// need the raw setting rather than a projected identity.
func (s *Service) GetUserIdentityScope(ctx context.Context, userID domain.UserID, scope domain.ScopeRef) (*identity.ScopeSetting, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.lookupScope(ctx, userID, scope)
}

// UpdateUserIdentityScope validates and upserts a scope setting. Violations
// reject the whole update; nothing is partially applied.
func (s *Service) UpdateUserIdentityScope(ctx context.Context, userID domain.UserID, scope domain.ScopeRef, update identity.ScopeUpdate) (*identity.ScopeSetting, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	profile, err := s.profiles.GetByUserID(ctx, userID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	if profile != nil {
		if err := identity.ValidateNameConstraints(profile.ChosenName, profile.RealName); err != nil {
			return nil, err
		}
	}
	if err := identity.ValidateScopeUpdate(update, profile); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	setting := &identity.ScopeSetting{
		UserID:           userID,
		Scope:            scope,
		Level:            update.Level,
		ShowAgeRange:     update.ShowAgeRange,
		ShowGender:       update.ShowGender,
		ShowCity:         update.ShowCity,
		ShowState:        update.ShowState,
		ShowBio:          update.ShowBio,
		ShowProfilePhoto: update.ShowProfilePhoto,
		CustomAvatarKey:  update.CustomAvatarKey,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.scopes.Upsert(ctx, setting); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save scope setting")
	}

	if s.audit != nil {
		_ = s.audit.Emit(ctx, audit.Event{
			Action:  audit.ActionScopeUpdated,
			ActorID: userID.String(),
			Detail: map[string]any{
				"scope_type": scope.Type.String(),
				"scope_id":   scope.RefID,
				"level":      update.Level.String(),
			},
		})
	}
	return setting, nil
}

// ListUserIdentityScopes returns every setting the user has configured,
// decorated with display context where available: chat overrides carry the
// participants' display names as the listing user currently sees them.
func (s *Service) ListUserIdentityScopes(ctx context.Context, userID domain.UserID) ([]*identity.ListedScope, error) {
	settings, err := s.scopes.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list scope settings")
	}

	listed := make([]*identity.ListedScope, 0, len(settings))
	for _, setting := range settings {
		listed = append(listed, &identity.ListedScope{
			Setting: setting,
			Context: s.scopeContext(ctx, userID, setting.Scope),
		})
	}
	return listed, nil
}

// scopeContext builds the display context for one scope. Lookups that fail
// leave the context empty rather than failing the listing.
func (s *Service) scopeContext(ctx context.Context, userID domain.UserID, scope domain.ScopeRef) identity.ScopeContext {
	if scope.Type != domain.ScopeChat || s.chats == nil {
		return identity.ScopeContext{}
	}

	chatID, err := domain.ParseChatID(scope.RefID)
	if err != nil {
		return identity.ScopeContext{}
	}
	participants, err := s.chats.Participants(ctx, chatID)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to load chat context for scope listing",
				"chat_id", chatID, "error", err)
		}
		return identity.ScopeContext{}
	}

	// Names go through resolution so the listing never discloses more of a
	// participant than the listing user is entitled to see in that chat.
	names := make([]string, 0, len(participants))
	for _, participantID := range participants {
		resolved, err := s.ResolveIdentity(ctx, userID, participantID, scope)
		if err != nil {
			continue
		}
		names = append(names, resolved.DisplayName)
	}
	return identity.ScopeContext{ChatParticipants: names}
}

// lookupScope resolves the effective setting: exact scope, then the global
// default, then an auto-created ANONYMOUS default. Resolution never fails for
// lack of configuration.
func (s *Service) lookupScope(ctx context.Context, userID domain.UserID, scope domain.ScopeRef) (*identity.ScopeSetting, error) {
	if !scope.IsGlobal() {
		exact, err := s.scopes.GetByUserAndScope(ctx, userID, scope)
		if err == nil {
			return exact, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load scope setting")
		}
	}

	global, err := s.scopes.GetGlobalDefault(ctx, userID)
	if err == nil {
		return global, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load default scope setting")
	}

	return s.createGlobalDefault(ctx, userID)
}

func (s *Service) createGlobalDefault(ctx context.Context, userID domain.UserID) (*identity.ScopeSetting, error) {
	v, err, _ := s.createGroup.Do(userID.String(), func() (any, error) {
		return s.scopes.CreateGlobalDefaultAnonymous(ctx, userID)
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create default scope setting")
	}
	s.metrics.IncDefaultCreated()
	if s.logger != nil {
		s.logger.InfoContext(ctx, "auto-created global default scope",
			"user_id", userID,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return v.(*identity.ScopeSetting), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// resolveSelf is the self-view shortcut: FULL level, every field exposed.
func (s *Service) resolveSelf(ctx context.Context, profile *identity.Profile) (*identity.ResolvedIdentity, error) {
	avatarURL, err := s.signer.ToSignedURL(ctx, firstNonEmpty(profile.ProfilePhotoKey, profile.AbstractAvatarKey))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign avatar")
	}
	s.metrics.IncResolution(domain.LevelFull.String())
	return &identity.ResolvedIdentity{
		UserID:        profile.UserID,
		DisplayName:   firstNonEmpty(profile.RealName, profile.ChosenName, profile.AbstractName),
		AvatarURL:     avatarURL,
		IdentityLevel: domain.LevelFull,
		AgeRange:      profile.AgeRange,
		Gender:        profile.Gender,
		City:          profile.City,
		State:         profile.State,
		Bio:           profile.Bio,
	}, nil
}

// project applies the resolved setting's level and toggles to the profile.
func (s *Service) project(ctx context.Context, profile *identity.Profile, setting *identity.ScopeSetting) (*identity.ResolvedIdentity, error) {
	resolved := &identity.ResolvedIdentity{
		UserID:        profile.UserID,
		IdentityLevel: setting.Level,
	}
	var avatarKey string

	switch setting.Level {
	case domain.LevelAnonymous:
		resolved.DisplayName = profile.AbstractName
		avatarKey = profile.AbstractAvatarKey
		if setting.ShowAgeRange {
			resolved.AgeRange = profile.AgeRange
		}
		if setting.ShowGender {
			resolved.Gender = profile.Gender
		}

	case domain.LevelPartial:
		resolved.DisplayName = firstNonEmpty(profile.ChosenName, profile.AbstractName)
		avatarKey = firstNonEmpty(setting.CustomAvatarKey, profile.AbstractAvatarKey)
		if setting.ShowAgeRange {
			resolved.AgeRange = profile.AgeRange
		}
		if setting.ShowGender {
			resolved.Gender = profile.Gender
		}
		if setting.ShowCity {
			resolved.City = profile.City
		}
		if setting.ShowState {
			resolved.State = profile.State
		}

	case domain.LevelFull:
		resolved.DisplayName = firstNonEmpty(profile.RealName, profile.ChosenName, profile.AbstractName)
		avatarKey = profile.AbstractAvatarKey
		if setting.ShowProfilePhoto && profile.ProfilePhotoKey != "" {
			avatarKey = profile.ProfilePhotoKey
		}
		if setting.ShowAgeRange {
			resolved.AgeRange = profile.AgeRange
		}
		if setting.ShowGender {
			resolved.Gender = profile.Gender
		}
		if setting.ShowCity {
			resolved.City = profile.City
		}
		if setting.ShowState {
			resolved.State = profile.State
		}
		if setting.ShowBio {
			resolved.Bio = profile.Bio
		}

	default:
		return nil, dErrors.New(dErrors.CodeInternal, "unknown identity level")
	}

	avatarURL, err := s.signer.ToSignedURL(ctx, avatarKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign avatar")
	}
	resolved.AvatarURL = avatarURL
	s.metrics.IncResolution(setting.Level.String())
	return resolved, nil
}
