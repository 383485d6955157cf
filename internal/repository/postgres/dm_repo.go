package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/moodjournal/dmsync/internal/domain"
)

type DMRepo struct {
	pool *pgxpool.Pool
}

func NewDMRepo(pool *pgxpool.Pool) *DMRepo {
	return &DMRepo{pool: pool}
}

const conversationColumns = `
	c.id, c.user1_id, c.user2_id, c.created_at, c.last_message_at, c.last_message_sender_id,
	u1.username, u2.username`

const conversationFrom = `
	FROM dm_conversations c
	JOIN users u1 ON c.user1_id = u1.id
	JOIN users u2 ON c.user2_id = u2.id`

func (r *DMRepo) CreateConversation(ctx context.Context, conv *domain.DMConversation) error {
	query := `
		INSERT INTO dm_conversations (id, user1_id, user2_id, created_at)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, conv.ID, conv.User1ID, conv.User2ID, conv.CreatedAt)
	return err
}

func (r *DMRepo) GetConversationByUsers(ctx context.Context, user1ID, user2ID uuid.UUID) (*domain.DMConversation, error) {
	query := `SELECT` + conversationColumns + conversationFrom + `
		WHERE c.user1_id = $1 AND c.user2_id = $2`
	return r.scanConversation(r.pool.QueryRow(ctx, query, user1ID, user2ID))
}

func (r *DMRepo) GetConversationByID(ctx context.Context, id uuid.UUID) (*domain.DMConversation, error) {
	query := `SELECT` + conversationColumns + conversationFrom + `
		WHERE c.id = $1`
	return r.scanConversation(r.pool.QueryRow(ctx, query, id))
}

func (r *DMRepo) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.DMConversation, error) {
	query := `SELECT` + conversationColumns + conversationFrom + `
		WHERE c.user1_id = $1 OR c.user2_id = $1
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []domain.DMConversation
	for rows.Next() {
		conv, err := r.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

func (r *DMRepo) scanConversation(row pgx.Row) (*domain.DMConversation, error) {
	var conv domain.DMConversation
	var username1, username2 string
	err := row.Scan(
		&conv.ID, &conv.User1ID, &conv.User2ID, &conv.CreatedAt,
		&conv.LastMessageAt, &conv.LastMessageSenderID,
		&username1, &username2,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	conv.Participants = []uuid.UUID{conv.User1ID, conv.User2ID}
	conv.ParticipantUsernames = map[string]string{
		conv.User1ID.String(): username1,
		conv.User2ID.String(): username2,
	}
	return &conv, nil
}

func (r *DMRepo) CreateMessage(ctx context.Context, msg *domain.DMMessage) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := `
		INSERT INTO dm_messages (id, conversation_id, sender_id, client_id, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := tx.Exec(ctx, insert,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ClientID, msg.Text, msg.CreatedAt,
	); err != nil {
		return err
	}

	bump := `
		UPDATE dm_conversations SET last_message_at = $1, last_message_sender_id = $2
		WHERE id = $3`
	if _, err := tx.Exec(ctx, bump, msg.CreatedAt, msg.SenderID, msg.ConversationID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const messageSelect = `
	SELECT m.id, m.conversation_id, m.sender_id, m.client_id, m.text, m.created_at, u.username
	FROM dm_messages m
	JOIN users u ON m.sender_id = u.id`

func (r *DMRepo) GetMessageByID(ctx context.Context, id uuid.UUID) (*domain.DMMessage, error) {
	return r.scanMessage(r.pool.QueryRow(ctx, messageSelect+` WHERE m.id = $1`, id))
}

func (r *DMRepo) GetMessageByClientID(ctx context.Context, conversationID uuid.UUID, clientID string) (*domain.DMMessage, error) {
	query := messageSelect + ` WHERE m.conversation_id = $1 AND m.client_id = $2`
	return r.scanMessage(r.pool.QueryRow(ctx, query, conversationID, clientID))
}

func (r *DMRepo) scanMessage(row pgx.Row) (*domain.DMMessage, error) {
	var msg domain.DMMessage
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.ClientID,
		&msg.Text, &msg.CreatedAt, &msg.SenderUsername,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return &msg, err
}

func (r *DMRepo) ListMessagesSince(ctx context.Context, conversationID uuid.UUID, since *time.Time, limit int) ([]domain.DMMessage, error) {
	var query string
	var args []any

	if since != nil {
		query = fmt.Sprintf(messageSelect+`
			WHERE m.conversation_id = $1 AND m.created_at > $2
			ORDER BY m.created_at ASC
			LIMIT %d`, limit)
		args = []any{conversationID, *since}
	} else {
		query = fmt.Sprintf(messageSelect+`
			WHERE m.conversation_id = $1
			ORDER BY m.created_at ASC
			LIMIT %d`, limit)
		args = []any{conversationID}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.DMMessage
	for rows.Next() {
		var msg domain.DMMessage
		if err := rows.Scan(
			&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.ClientID,
			&msg.Text, &msg.CreatedAt, &msg.SenderUsername,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
