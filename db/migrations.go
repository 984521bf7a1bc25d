package db

import (
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"
)

const (
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		url TEXT UNIQUE NOT NULL,
		description TEXT,
		avatar TEXT,
		public_key TEXT,
		private_key TEXT,
		remote_id TEXT UNIQUE,
		remote_inbox TEXT,
		banned INTEGER DEFAULT 0,
		nsfw INTEGER DEFAULT 0,
		federated_host_id TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateActorsIndices = `
		CREATE INDEX IF NOT EXISTS idx_actors_remote_id ON actors(remote_id);
		CREATE INDEX IF NOT EXISTS idx_actors_federated_host_id ON actors(federated_host_id);
	`

	sqlCreateHostsTable = `CREATE TABLE IF NOT EXISTS federated_hosts (
		id TEXT NOT NULL PRIMARY KEY,
		display_name TEXT UNIQUE NOT NULL,
		public_inbox TEXT,
		blocked INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		content TEXT,
		content_warning TEXT,
		privacy INTEGER DEFAULT 0,
		author_id TEXT NOT NULL,
		parent_id TEXT,
		remote_post_id TEXT UNIQUE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_remote_post_id ON posts(remote_post_id);
		CREATE INDEX IF NOT EXISTS idx_posts_parent_id ON posts(parent_id);
		CREATE INDEX IF NOT EXISTS idx_posts_author_id ON posts(author_id);
	`

	sqlCreateMediasTable = `CREATE TABLE IF NOT EXISTS medias (
		id TEXT NOT NULL PRIMARY KEY,
		url TEXT NOT NULL,
		description TEXT,
		nsfw INTEGER DEFAULT 0,
		actor_id TEXT NOT NULL,
		post_id TEXT,
		external INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePostTagsTable = `CREATE TABLE IF NOT EXISTS post_tags (
		id TEXT NOT NULL PRIMARY KEY,
		post_id TEXT NOT NULL,
		tag_name TEXT NOT NULL
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		follower_id TEXT NOT NULL,
		followed_id TEXT NOT NULL,
		remote_follow_id TEXT,
		accepted INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(follower_id, followed_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_followed_id ON follows(followed_id);
		CREATE INDEX IF NOT EXISTS idx_follows_remote_follow_id ON follows(remote_follow_id);
	`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		id TEXT NOT NULL PRIMARY KEY,
		actor_id TEXT NOT NULL,
		post_id TEXT NOT NULL,
		remote_id TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(actor_id, post_id)
	)`

	sqlCreateMentionsTable = `CREATE TABLE IF NOT EXISTS mentions (
		id TEXT NOT NULL PRIMARY KEY,
		post_id TEXT NOT NULL,
		actor_id TEXT NOT NULL
	)`

	sqlCreateBlocksTable = `CREATE TABLE IF NOT EXISTS blocks (
		id TEXT NOT NULL PRIMARY KEY,
		blocker_id TEXT NOT NULL,
		blocked_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(blocker_id, blocked_id)
	)`

	sqlCreateServerBlocksTable = `CREATE TABLE IF NOT EXISTS server_blocks (
		id TEXT NOT NULL PRIMARY KEY,
		blocker_id TEXT NOT NULL,
		blocked_host_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(blocker_id, blocked_host_id)
	)`

	sqlCreateEmojisTable = `CREATE TABLE IF NOT EXISTS emojis (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT,
		external INTEGER DEFAULT 1,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreatePostEmojisTable = `CREATE TABLE IF NOT EXISTS post_emojis (
		post_id TEXT NOT NULL,
		emoji_id TEXT NOT NULL,
		PRIMARY KEY(post_id, emoji_id)
	)`

	sqlCreatePollsTable = `CREATE TABLE IF NOT EXISTS polls (
		id TEXT NOT NULL PRIMARY KEY,
		post_id TEXT UNIQUE NOT NULL,
		end_date TIMESTAMP,
		multi_choice INTEGER DEFAULT 0
	)`

	sqlCreatePollQuestionsTable = `CREATE TABLE IF NOT EXISTS poll_questions (
		id TEXT NOT NULL PRIMARY KEY,
		poll_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		question_text TEXT,
		remote_replies INTEGER DEFAULT 0
	)`

	sqlCreateJobsTable = `CREATE TABLE IF NOT EXISTS jobs (
		id TEXT NOT NULL PRIMARY KEY,
		kind TEXT NOT NULL,
		payload TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		next_retry_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateJobsIndices = `
		CREATE INDEX IF NOT EXISTS idx_jobs_next_retry_at ON jobs(next_retry_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_kind ON jobs(kind);
	`
)

// Migrate creates the schema. Every statement is idempotent so running it
// on an existing database is safe.
func (db *DB) Migrate() error {
	tables := []struct {
		name string
		sql  string
	}{
		{"actors", sqlCreateActorsTable},
		{"federated_hosts", sqlCreateHostsTable},
		{"posts", sqlCreatePostsTable},
		{"medias", sqlCreateMediasTable},
		{"post_tags", sqlCreatePostTagsTable},
		{"follows", sqlCreateFollowsTable},
		{"likes", sqlCreateLikesTable},
		{"mentions", sqlCreateMentionsTable},
		{"blocks", sqlCreateBlocksTable},
		{"server_blocks", sqlCreateServerBlocksTable},
		{"emojis", sqlCreateEmojisTable},
		{"post_emojis", sqlCreatePostEmojisTable},
		{"polls", sqlCreatePollsTable},
		{"poll_questions", sqlCreatePollQuestionsTable},
		{"jobs", sqlCreateJobsTable},
	}

	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, table := range tables {
			if _, err := tx.Exec(table.sql); err != nil {
				return fmt.Errorf("failed to create table %s: %w", table.name, err)
			}
		}

		indices := []string{
			sqlCreateActorsIndices,
			sqlCreatePostsIndices,
			sqlCreateFollowsIndices,
			sqlCreateJobsIndices,
		}
		for _, idx := range indices {
			if _, err := tx.Exec(idx); err != nil {
				log.Warnf("Failed to create index: %v", err)
			}
		}
		return nil
	})
}
