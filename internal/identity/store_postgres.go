package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cirvia/pkg/domain"
	"cirvia/pkg/platform/sentinel"
	"cirvia/pkg/requestcontext"
)

// PostgresProfileStore reads profiles from the profiles table owned by the
// profile subsystem.
type PostgresProfileStore struct {
	pool *pgxpool.Pool
}

func NewPostgresProfileStore(pool *pgxpool.Pool) *PostgresProfileStore {
	return &PostgresProfileStore{pool: pool}
}

const profileColumns = `user_id, real_name, chosen_name, abstract_name, abstract_avatar_key,
	profile_photo_key, age_range, gender, city, state, bio`

func scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	var userID string
	err := row.Scan(&userID, &p.RealName, &p.ChosenName, &p.AbstractName, &p.AbstractAvatarKey,
		&p.ProfilePhotoKey, &p.AgeRange, &p.Gender, &p.City, &p.State, &p.Bio)
	if err != nil {
		return nil, err
	}
	p.UserID, err = domain.ParseUserID(userID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresProfileStore) GetByUserID(ctx context.Context, userID domain.UserID) (*Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID.String())
	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return profile, nil
}

func (s *PostgresProfileStore) GetByUserIDs(ctx context.Context, userIDs []domain.UserID) (map[domain.UserID]*Profile, error) {
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get profiles: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.UserID]*Profile, len(userIDs))
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out[profile.UserID] = profile
	}
	return out, rows.Err()
}

// PostgresScopeStore persists scope settings keyed by
// (user_id, scope_type, scope_ref_id).
type PostgresScopeStore struct {
	pool *pgxpool.Pool
}

func NewPostgresScopeStore(pool *pgxpool.Pool) *PostgresScopeStore {
	return &PostgresScopeStore{pool: pool}
}

const scopeColumns = `user_id, scope_type, scope_ref_id, identity_level, show_age_range,
	show_gender, show_city, show_state, show_bio, show_profile_photo, custom_avatar_key,
	created_at, updated_at`

func scanScopeSetting(row pgx.Row) (*ScopeSetting, error) {
	var s ScopeSetting
	var userID, scopeType, level string
	err := row.Scan(&userID, &scopeType, &s.Scope.RefID, &level, &s.ShowAgeRange,
		&s.ShowGender, &s.ShowCity, &s.ShowState, &s.ShowBio, &s.ShowProfilePhoto,
		&s.CustomAvatarKey, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.UserID, err = domain.ParseUserID(userID)
	if err != nil {
		return nil, err
	}
	s.Scope.Type, err = domain.ParseScopeType(scopeType)
	if err != nil {
		return nil, err
	}
	s.Level, err = domain.ParseIdentityLevel(level)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *PostgresScopeStore) GetByUserAndScope(ctx context.Context, userID domain.UserID, scope domain.ScopeRef) (*ScopeSetting, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scopeColumns+` FROM identity_scopes
		 WHERE user_id = $1 AND scope_type = $2 AND scope_ref_id = $3`,
		userID.String(), scope.Type.String(), scope.RefID)
	setting, err := scanScopeSetting(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get scope setting: %w", err)
	}
	return setting, nil
}

func (s *PostgresScopeStore) GetGlobalDefault(ctx context.Context, userID domain.UserID) (*ScopeSetting, error) {
	return s.GetByUserAndScope(ctx, userID, domain.GlobalScope())
}

func (s *PostgresScopeStore) CreateGlobalDefaultAnonymous(ctx context.Context, userID domain.UserID) (*ScopeSetting, error) {
	now := requestcontext.Now(ctx)
	// ON CONFLICT DO NOTHING keeps the exactly-one-default invariant under
	// concurrent first access.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identity_scopes (user_id, scope_type, scope_ref_id, identity_level,
			show_age_range, show_gender, show_city, show_state, show_bio,
			show_profile_photo, custom_avatar_key, created_at, updated_at)
		 VALUES ($1, $2, '', $3, false, false, false, false, false, false, '', $4, $4)
		 ON CONFLICT (user_id, scope_type, scope_ref_id) DO NOTHING`,
		userID.String(), domain.ScopeGlobalDefault.String(), domain.LevelAnonymous.String(), now)
	if err != nil {
		return nil, fmt.Errorf("create global default: %w", err)
	}
	return s.GetGlobalDefault(ctx, userID)
}

func (s *PostgresScopeStore) GetByUsersAndScope(ctx context.Context, userIDs []domain.UserID, scope domain.ScopeRef) (map[domain.UserID]*ScopeSetting, error) {
	ids := make([]string, len(userIDs))
	for i, id := range userIDs {
		ids[i] = id.String()
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+scopeColumns+` FROM identity_scopes
		 WHERE user_id = ANY($1) AND scope_type = $2 AND scope_ref_id = $3`,
		ids, scope.Type.String(), scope.RefID)
	if err != nil {
		return nil, fmt.Errorf("get scope settings: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.UserID]*ScopeSetting, len(userIDs))
	for rows.Next() {
		setting, err := scanScopeSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scope setting: %w", err)
		}
		out[setting.UserID] = setting
	}
	return out, rows.Err()
}

func (s *PostgresScopeStore) GetGlobalDefaults(ctx context.Context, userIDs []domain.UserID) (map[domain.UserID]*ScopeSetting, error) {
	return s.GetByUsersAndScope(ctx, userIDs, domain.GlobalScope())
}

func (s *PostgresScopeStore) Upsert(ctx context.Context, setting *ScopeSetting) error {
	now := requestcontext.Now(ctx)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identity_scopes (user_id, scope_type, scope_ref_id, identity_level,
			show_age_range, show_gender, show_city, show_state, show_bio,
			show_profile_photo, custom_avatar_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		 ON CONFLICT (user_id, scope_type, scope_ref_id) DO UPDATE SET
			identity_level = EXCLUDED.identity_level,
			show_age_range = EXCLUDED.show_age_range,
			show_gender = EXCLUDED.show_gender,
			show_city = EXCLUDED.show_city,
			show_state = EXCLUDED.show_state,
			show_bio = EXCLUDED.show_bio,
			show_profile_photo = EXCLUDED.show_profile_photo,
			custom_avatar_key = EXCLUDED.custom_avatar_key,
			updated_at = EXCLUDED.updated_at`,
		setting.UserID.String(), setting.Scope.Type.String(), setting.Scope.RefID,
		setting.Level.String(), setting.ShowAgeRange, setting.ShowGender, setting.ShowCity,
		setting.ShowState, setting.ShowBio, setting.ShowProfilePhoto, setting.CustomAvatarKey, now)
	if err != nil {
		return fmt.Errorf("upsert scope setting: %w", err)
	}
	return nil
}

func (s *PostgresScopeStore) Delete(ctx context.Context, userID domain.UserID, scope domain.ScopeRef) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM identity_scopes WHERE user_id = $1 AND scope_type = $2 AND scope_ref_id = $3`,
		userID.String(), scope.Type.String(), scope.RefID)
	if err != nil {
		return fmt.Errorf("delete scope setting: %w", err)
	}
	return nil
}

func (s *PostgresScopeStore) ListByUser(ctx context.Context, userID domain.UserID) ([]*ScopeSetting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scopeColumns+` FROM identity_scopes WHERE user_id = $1 ORDER BY created_at`,
		userID.String())
	if err != nil {
		return nil, fmt.Errorf("list scope settings: %w", err)
	}
	defer rows.Close()

	var out []*ScopeSetting
	for rows.Next() {
		setting, err := scanScopeSetting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scope setting: %w", err)
		}
		out = append(out, setting)
	}
	return out, rows.Err()
}
