package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// ChangeChannel is the Postgres NOTIFY channel fed by the change triggers.
const ChangeChannel = "chat_changes"

// Options controls how the database is opened.
type Options struct {
	DSN           string
	RunMigrations bool
	RetryCount    int
	RetryInterval time.Duration
}

// Connect opens the database, retrying while it comes up, and optionally
// applies the schema.
func Connect(ctx context.Context, opts Options, log *zap.Logger) (*sqlx.DB, error) {
	attempts := opts.RetryCount
	if attempts < 1 {
		attempts = 1
	}

	var (
		db  *sqlx.DB
		err error
	)
	for i := 1; i <= attempts; i++ {
		db, err = sqlx.ConnectContext(ctx, "postgres", opts.DSN)
		if err == nil {
			break
		}
		log.Warn("failed to connect to postgres, retrying",
			zap.Int("attempt", i),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if i < attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.RetryInterval):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if opts.RunMigrations {
		if err := runMigrations(ctx, db); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		log.Info("database migrations applied")
	}
	return db, nil
}

// Profiles belong to the account system; the table is created here only so
// a fresh database is usable.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL DEFAULT '',
            avatar_url TEXT,
            role TEXT NOT NULL DEFAULT 'user',
            created_at TIMESTAMPTZ DEFAULT NOW()
        );`,
	`CREATE TABLE IF NOT EXISTS threads (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            consultant_id TEXT NOT NULL,
            last_message_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS threads_user_id_idx ON threads (user_id);`,
	`CREATE INDEX IF NOT EXISTS threads_consultant_id_idx ON threads (consultant_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
            id TEXT PRIMARY KEY,
            thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
            sender_id TEXT NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            attachment_url TEXT,
            attachment_mime_type TEXT,
            attachment_name TEXT,
            attachment_size BIGINT,
            is_read BOOLEAN NOT NULL DEFAULT FALSE,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
	`CREATE INDEX IF NOT EXISTS messages_thread_created_idx ON messages (thread_id, created_at);`,
	`CREATE OR REPLACE FUNCTION notify_chat_change() RETURNS trigger AS $$
        BEGIN
            PERFORM pg_notify('` + ChangeChannel + `', json_build_object(
                'table', TG_TABLE_NAME,
                'type', TG_OP,
                'record', json_build_object(
                    'id', NEW.id,
                    'thread_id', CASE WHEN TG_TABLE_NAME = 'messages' THEN to_jsonb(NEW)->>'thread_id' END,
                    'sender_id', CASE WHEN TG_TABLE_NAME = 'messages' THEN to_jsonb(NEW)->>'sender_id' END,
                    'user_id', CASE WHEN TG_TABLE_NAME = 'threads' THEN to_jsonb(NEW)->>'user_id' END,
                    'consultant_id', CASE WHEN TG_TABLE_NAME = 'threads' THEN to_jsonb(NEW)->>'consultant_id' END
                )
            )::text);
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;`,
	`DROP TRIGGER IF EXISTS threads_notify ON threads;`,
	`CREATE TRIGGER threads_notify AFTER INSERT OR UPDATE ON threads
        FOR EACH ROW EXECUTE FUNCTION notify_chat_change();`,
	`DROP TRIGGER IF EXISTS messages_notify ON messages;`,
	`CREATE TRIGGER messages_notify AFTER INSERT OR UPDATE ON messages
        FOR EACH ROW EXECUTE FUNCTION notify_chat_change();`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
