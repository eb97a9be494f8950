// Package handler exposes identity resolution and scope settings over HTTP.
// Transport-only: request decoding, scope parsing, and error envelopes; all
// behavior lives in the service.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cirvia/internal/identity"
	"cirvia/pkg/domain"
	dErrors "cirvia/pkg/domain-errors"
	"cirvia/pkg/platform/httputil"
	"cirvia/pkg/platform/middleware"
	pstrings "cirvia/pkg/platform/strings"
	"cirvia/pkg/requestcontext"
)

// Service defines the identity operations the handler needs.
type Service interface {
	ResolveIdentity(ctx context.Context, viewerID, subjectID domain.UserID, scope domain.ScopeRef) (*identity.ResolvedIdentity, error)
	ResolveIdentityBulk(ctx context.Context, viewerID domain.UserID, subjectIDs []domain.UserID, scope domain.ScopeRef) (map[domain.UserID]*identity.ResolvedIdentity, error)
	GetUserIdentityScope(ctx context.Context, userID domain.UserID, scope domain.ScopeRef) (*identity.ScopeSetting, error)
	UpdateUserIdentityScope(ctx context.Context, userID domain.UserID, scope domain.ScopeRef, update identity.ScopeUpdate) (*identity.ScopeSetting, error)
	ListUserIdentityScopes(ctx context.Context, userID domain.UserID) ([]*identity.ListedScope, error)
}

// Handler handles identity endpoints.
type Handler struct {
	identity Service
	logger   *slog.Logger
}

// New creates a new identity Handler.
func New(identitySvc Service, logger *slog.Logger) *Handler {
	return &Handler{identity: identitySvc, logger: logger}
}

// Register registers the identity routes. The router is expected to carry the
// auth middleware already.
func (h *Handler) Register(r chi.Router) {
	r.Get("/identity/resolve/{subjectID}", h.handleResolve)
	r.Post("/identity/resolve/bulk", h.handleResolveBulk)
	r.Get("/identity/scopes", h.handleListScopes)
	r.Get("/identity/scope", h.handleGetScope)
	r.Put("/identity/scope", h.handleUpdateScope)
}

// parseScope reads scopeType/scopeId query parameters, defaulting to the
// global scope when absent.
func parseScope(r *http.Request) (domain.ScopeRef, error) {
	typeParam := r.URL.Query().Get("scopeType")
	if typeParam == "" {
		return domain.GlobalScope(), nil
	}
	scopeType, err := domain.ParseScopeType(typeParam)
	if err != nil {
		return domain.ScopeRef{}, err
	}
	scope := domain.ScopeRef{Type: scopeType, RefID: r.URL.Query().Get("scopeId")}
	if err := scope.Validate(); err != nil {
		return domain.ScopeRef{}, err
	}
	return scope, nil
}

func (h *Handler) viewer(w http.ResponseWriter, r *http.Request) (domain.UserID, bool) {
	userID, err := domain.ParseUserID(middleware.GetUserID(r.Context()))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "userID missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return domain.UserID{}, false
	}
	return userID, true
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewerID, ok := h.viewer(w, r)
	if !ok {
		return
	}

	subjectID, err := domain.ParseUserID(chi.URLParam(r, "subjectID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid subject id"))
		return
	}
	scope, err := parseScope(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	resolved, err := h.identity.ResolveIdentity(ctx, viewerID, subjectID, scope)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to resolve identity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resolved)
}

type bulkResolveRequest struct {
	SubjectIDs []string `json:"subjectIds"`
	ScopeType  string   `json:"scopeType"`
	ScopeID    string   `json:"scopeId"`
}

func (h *Handler) handleResolveBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewerID, ok := h.viewer(w, r)
	if !ok {
		return
	}

	var req bulkResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	scope := domain.GlobalScope()
	if req.ScopeType != "" {
		scopeType, err := domain.ParseScopeType(req.ScopeType)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		scope = domain.ScopeRef{Type: scopeType, RefID: req.ScopeID}
	}

	rawIDs := pstrings.DedupeAndTrim(req.SubjectIDs)
	subjectIDs := make([]domain.UserID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := domain.ParseUserID(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "invalid subject id %q", raw))
			return
		}
		subjectIDs = append(subjectIDs, id)
	}

	resolved, err := h.identity.ResolveIdentityBulk(ctx, viewerID, subjectIDs, scope)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to bulk resolve identities", err)
		return
	}

	out := make(map[string]*identity.ResolvedIdentity, len(resolved))
	for id, dto := range resolved {
		out[id.String()] = dto
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// scopeSettingResponse is the wire shape of a scope setting. ChatParticipants
// is display context, present only on listed chat overrides.
type scopeSettingResponse struct {
	ScopeType        string   `json:"scopeType"`
	ScopeID          string   `json:"scopeId,omitempty"`
	Level            string   `json:"level"`
	ShowAgeRange     bool     `json:"showAgeRange"`
	ShowGender       bool     `json:"showGender"`
	ShowCity         bool     `json:"showCity"`
	ShowState        bool     `json:"showState"`
	ShowBio          bool     `json:"showBio"`
	ShowProfilePhoto bool     `json:"showProfilePhoto"`
	ChatParticipants []string `json:"chatParticipants,omitempty"`
}

func toScopeResponse(s *identity.ScopeSetting) scopeSettingResponse {
	return scopeSettingResponse{
		ScopeType:        s.Scope.Type.String(),
		ScopeID:          s.Scope.RefID,
		Level:            s.Level.String(),
		ShowAgeRange:     s.ShowAgeRange,
		ShowGender:       s.ShowGender,
		ShowCity:         s.ShowCity,
		ShowState:        s.ShowState,
		ShowBio:          s.ShowBio,
		ShowProfilePhoto: s.ShowProfilePhoto,
	}
}

func (h *Handler) handleGetScope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.viewer(w, r)
	if !ok {
		return
	}
	scope, err := parseScope(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	setting, err := h.identity.GetUserIdentityScope(ctx, userID, scope)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to load scope setting", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toScopeResponse(setting))
}

type updateScopeRequest struct {
	ScopeType        string `json:"scopeType"`
	ScopeID          string `json:"scopeId"`
	Level            string `json:"level"`
	ShowAgeRange     bool   `json:"showAgeRange"`
	ShowGender       bool   `json:"showGender"`
	ShowCity         bool   `json:"showCity"`
	ShowState        bool   `json:"showState"`
	ShowBio          bool   `json:"showBio"`
	ShowProfilePhoto bool   `json:"showProfilePhoto"`
	ShowRealName     bool   `json:"showRealName"`
	UseChosenName    bool   `json:"useChosenName"`
	CustomAvatarKey  string `json:"customAvatarKey"`
}

func (h *Handler) handleUpdateScope(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.viewer(w, r)
	if !ok {
		return
	}

	var req updateScopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	scopeType, err := domain.ParseScopeType(req.ScopeType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	scope := domain.ScopeRef{Type: scopeType, RefID: req.ScopeID}

	level, err := domain.ParseIdentityLevel(req.Level)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	setting, err := h.identity.UpdateUserIdentityScope(ctx, userID, scope, identity.ScopeUpdate{
		Level:            level,
		ShowAgeRange:     req.ShowAgeRange,
		ShowGender:       req.ShowGender,
		ShowCity:         req.ShowCity,
		ShowState:        req.ShowState,
		ShowBio:          req.ShowBio,
		ShowProfilePhoto: req.ShowProfilePhoto,
		ShowRealName:     req.ShowRealName,
		UseChosenName:    req.UseChosenName,
		CustomAvatarKey:  req.CustomAvatarKey,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "failed to update scope setting", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toScopeResponse(setting))
}

func (h *Handler) handleListScopes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.viewer(w, r)
	if !ok {
		return
	}

	settings, err := h.identity.ListUserIdentityScopes(ctx, userID)
	if err != nil {
		h.writeServiceError(ctx, w, "failed to list scope settings", err)
		return
	}

	out := make([]scopeSettingResponse, 0, len(settings))
	for _, listed := range settings {
		resp := toScopeResponse(listed.Setting)
		resp.ChatParticipants = listed.Context.ChatParticipants
		out = append(out, resp)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// writeServiceError logs unexpected failures and renders coded errors as-is.
func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
	}
	httputil.WriteError(w, err)
}
