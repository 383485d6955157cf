package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/moodjournal/dmsync/internal/config"
)

func Connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	pool, err := pgxpool.New(ctx, dsn)

	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS dm_conversations (
	id                     UUID PRIMARY KEY,
	user1_id               UUID NOT NULL REFERENCES users(id),
	user2_id               UUID NOT NULL REFERENCES users(id),
	created_at             TIMESTAMPTZ NOT NULL,
	last_message_at        TIMESTAMPTZ,
	last_message_sender_id UUID REFERENCES users(id),
	CHECK (user1_id < user2_id),
	UNIQUE (user1_id, user2_id)
);

CREATE TABLE IF NOT EXISTS dm_messages (
	id              UUID PRIMARY KEY,
	conversation_id UUID NOT NULL REFERENCES dm_conversations(id),
	sender_id       UUID NOT NULL REFERENCES users(id),
	client_id       TEXT,
	text            TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (conversation_id, client_id)
);

CREATE INDEX IF NOT EXISTS dm_messages_conversation_created_idx
	ON dm_messages (conversation_id, created_at);
`

// Migrate creates the tables the conversation API needs.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}
