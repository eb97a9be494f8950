package reveal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cirvia/pkg/domain"
	"cirvia/pkg/platform/sentinel"
)

// PostgresChatStore reads chats from the table owned by the chat subsystem.
type PostgresChatStore struct {
	pool *pgxpool.Pool
}

func NewPostgresChatStore(pool *pgxpool.Pool) *PostgresChatStore {
	return &PostgresChatStore{pool: pool}
}

func (s *PostgresChatStore) GetByID(ctx context.Context, chatID domain.ChatID) (*Chat, error) {
	var chat Chat
	var id, chatType, participantA, participantB string
	err := s.pool.QueryRow(ctx,
		`SELECT id, chat_type, participant_a_id, participant_b_id FROM chats WHERE id = $1`,
		chatID.String()).Scan(&id, &chatType, &participantA, &participantB)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if chat.ID, err = domain.ParseChatID(id); err != nil {
		return nil, err
	}
	chat.Type = ChatType(chatType)
	if chat.ParticipantAID, err = domain.ParseUserID(participantA); err != nil {
		return nil, err
	}
	if chat.ParticipantBID, err = domain.ParseUserID(participantB); err != nil {
		return nil, err
	}
	return &chat, nil
}

// PostgresStore persists both directional reveal records of a pair inside one
// transaction so coupled transitions commit atomically.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const revealColumns = `chat_id, from_user_id, to_user_id, status, initiated_at, confirmed_at, revoked_at`

func scanReveal(row pgx.Row) (*Reveal, error) {
	var r Reveal
	var chatID, fromUser, toUser, status string
	err := row.Scan(&chatID, &fromUser, &toUser, &status, &r.InitiatedAt, &r.ConfirmedAt, &r.RevokedAt)
	if err != nil {
		return nil, err
	}
	if r.ChatID, err = domain.ParseChatID(chatID); err != nil {
		return nil, err
	}
	if r.FromUserID, err = domain.ParseUserID(fromUser); err != nil {
		return nil, err
	}
	if r.ToUserID, err = domain.ParseUserID(toUser); err != nil {
		return nil, err
	}
	if r.Status, err = ParseStatus(status); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetPair(ctx context.Context, key PairKey) (*PairState, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+revealColumns+` FROM chat_identity_reveals
		 WHERE chat_id = $1 AND from_user_id = ANY($2) AND to_user_id = ANY($2)`,
		key.ChatID.String(), []string{key.UserA.String(), key.UserB.String()})
	if err != nil {
		return nil, fmt.Errorf("get reveal pair: %w", err)
	}
	defer rows.Close()

	state := &PairState{}
	for rows.Next() {
		record, err := scanReveal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reveal: %w", err)
		}
		// Slot order carries no meaning; records identify their direction.
		if record.FromUserID == key.UserA {
			state.Records[0] = record
		} else {
			state.Records[1] = record
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return state, nil
}

func upsertReveal(ctx context.Context, tx pgx.Tx, r *Reveal) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO chat_identity_reveals (chat_id, from_user_id, to_user_id, status,
			initiated_at, confirmed_at, revoked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (chat_id, from_user_id, to_user_id) DO UPDATE SET
			status = EXCLUDED.status,
			initiated_at = EXCLUDED.initiated_at,
			confirmed_at = EXCLUDED.confirmed_at,
			revoked_at = EXCLUDED.revoked_at`,
		r.ChatID.String(), r.FromUserID.String(), r.ToUserID.String(), r.Status.String(),
		r.InitiatedAt, r.ConfirmedAt, r.RevokedAt)
	if err != nil {
		return fmt.Errorf("upsert reveal %s->%s: %w", r.FromUserID, r.ToUserID, err)
	}
	return nil
}

func (s *PostgresStore) SavePair(ctx context.Context, key PairKey, state *PairState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save pair: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, record := range state.Records {
		if record == nil {
			continue
		}
		if err := upsertReveal(ctx, tx, record); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save pair: %w", err)
	}
	return nil
}
