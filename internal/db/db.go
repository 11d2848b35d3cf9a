package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL lets readers work while a writer holds the lock.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	// -64000 = 64MB
	if _, err := conn.Exec("PRAGMA cache_size=-64000"); err != nil {
		return nil, fmt.Errorf("failed to set cache size: %w", err)
	}

	// Every connection of an in-memory database is a separate database.
	if isMemory(path) {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return db, nil
}

// dsn adds the per-connection settings. busy_timeout and foreign_keys are
// connection scoped, so a PRAGMA on one pooled connection would not reach
// the others. Write transactions take the lock up front (BEGIN IMMEDIATE)
// to avoid read-to-write upgrade deadlocks.
func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT UNIQUE NOT NULL COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	avatar_url TEXT,
	bio TEXT NOT NULL DEFAULT '',
	online INTEGER NOT NULL DEFAULT 0,
	last_seen TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS rooms (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL DEFAULT 'direct',
	last_message TEXT NOT NULL DEFAULT '',
	last_message_time TIMESTAMP,
	last_sender_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS room_participants (
	room_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	unread_count INTEGER NOT NULL DEFAULT 0,
	joined_at TIMESTAMP NOT NULL,
	PRIMARY KEY (room_id, user_id),
	FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS messages (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT UNIQUE NOT NULL,
	room_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	body TEXT NOT NULL,
	reply_to_id TEXT,
	reply_snapshot TEXT,
	edited INTEGER NOT NULL DEFAULT 0,
	edited_at TIMESTAMP,
	deleted INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'sent',
	created_at TIMESTAMP NOT NULL,
	delivered_at TIMESTAMP,
	read_at TIMESTAMP,
	FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS message_reactions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	emoji TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (message_id, user_id, emoji),
	FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS friend_requests (
	id TEXT PRIMARY KEY,
	sender_id TEXT NOT NULL,
	receiver_id TEXT NOT NULL,
	pair_key TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS friendships (
	user_id TEXT NOT NULL,
	friend_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, friend_id)
);

CREATE TABLE IF NOT EXISTS chat_groups (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	avatar_url TEXT,
	type TEXT NOT NULL DEFAULT 'public',
	secret_code TEXT UNIQUE,
	owner_id TEXT NOT NULL,
	created_by TEXT NOT NULL,
	max_members INTEGER NOT NULL DEFAULT 100,
	allow_bots INTEGER NOT NULL DEFAULT 1,
	allow_invites INTEGER NOT NULL DEFAULT 1,
	room_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role_id TEXT NOT NULL DEFAULT '',
	joined_at TIMESTAMP NOT NULL,
	PRIMARY KEY (group_id, user_id),
	FOREIGN KEY (group_id) REFERENCES chat_groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS group_admins (
	group_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (group_id, user_id),
	FOREIGN KEY (group_id) REFERENCES chat_groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS group_roles (
	group_id TEXT NOT NULL,
	id TEXT NOT NULL,
	name TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	permissions INTEGER NOT NULL DEFAULT 0,
	position INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (group_id, id),
	FOREIGN KEY (group_id) REFERENCES chat_groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS push_subscriptions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	endpoint TEXT UNIQUE NOT NULL,
	p256dh TEXT NOT NULL,
	auth TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	revoked_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_room_participants_user_id ON room_participants(user_id);
CREATE INDEX IF NOT EXISTS idx_messages_room_seq ON messages(room_id, seq DESC);
CREATE INDEX IF NOT EXISTS idx_message_reactions_message_id ON message_reactions(message_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_friend_requests_pending ON friend_requests(pair_key) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_friend_requests_receiver ON friend_requests(receiver_id, status);
CREATE INDEX IF NOT EXISTS idx_friend_requests_sender ON friend_requests(sender_id, status);
CREATE INDEX IF NOT EXISTS idx_group_members_user_id ON group_members(user_id);
CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user_id ON push_subscriptions(user_id);
CREATE INDEX IF NOT EXISTS idx_users_last_seen ON users(last_seen DESC);
`

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) GetConn() *sql.DB {
	return db.conn
}
