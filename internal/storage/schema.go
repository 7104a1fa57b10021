package storage

import (
	"context"
	"database/sql"
)

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL,
			updated_at_ms BIGINT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users(username);`,

		`CREATE TABLE IF NOT EXISTS friend_requests (
			id TEXT PRIMARY KEY,
			requester_id TEXT NOT NULL,
			addressee_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at_ms BIGINT NOT NULL,
			updated_at_ms BIGINT NOT NULL,
			UNIQUE(requester_id, addressee_id),
			FOREIGN KEY(requester_id) REFERENCES users(id) ON DELETE CASCADE,
			FOREIGN KEY(addressee_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_friend_requests_addressee ON friend_requests(addressee_id, status);`,

		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			pair_key TEXT NOT NULL UNIQUE,
			user1_id TEXT NOT NULL,
			user2_id TEXT NOT NULL,
			created_at_ms BIGINT NOT NULL,
			FOREIGN KEY(user1_id) REFERENCES users(id),
			FOREIGN KEY(user2_id) REFERENCES users(id)
		);`,

		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			seq BIGINT NOT NULL,
			text TEXT NOT NULL,
			is_read INTEGER NOT NULL DEFAULT 0,
			created_at_ms BIGINT NOT NULL,
			UNIQUE(room_id, seq),
			FOREIGN KEY(room_id) REFERENCES rooms(id) ON DELETE CASCADE,
			FOREIGN KEY(sender_id) REFERENCES users(id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_seq ON messages(room_id, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
