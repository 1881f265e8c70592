package db

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"
)

const (
	sqlCreateActorsTable = `CREATE TABLE IF NOT EXISTS actors (
		id TEXT NOT NULL PRIMARY KEY,
		username TEXT NOT NULL,
		domain TEXT NOT NULL,
		actor_uri TEXT UNIQUE NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		inbox_uri TEXT NOT NULL,
		outbox_uri TEXT NOT NULL DEFAULT '',
		shared_inbox_uri TEXT NOT NULL DEFAULT '',
		public_key_pem TEXT NOT NULL,
		private_key_pem TEXT NOT NULL DEFAULT '',
		local INTEGER NOT NULL DEFAULT 0,
		manually_approves INTEGER NOT NULL DEFAULT 0,
		bookwyrm_user INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		last_fetched_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateActorsIndices = `
		CREATE UNIQUE INDEX IF NOT EXISTS idx_actors_local_username ON actors(username) WHERE local = 1;
		CREATE INDEX IF NOT EXISTS idx_actors_domain ON actors(domain);
	`

	sqlCreateServersTable = `CREATE TABLE IF NOT EXISTS federated_servers (
		id TEXT NOT NULL PRIMARY KEY,
		server_name TEXT UNIQUE NOT NULL,
		status TEXT NOT NULL DEFAULT 'federated',
		application_type TEXT NOT NULL DEFAULT '',
		application_version TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateFollowRequestsTable = `CREATE TABLE IF NOT EXISTS follow_requests (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		subject_id TEXT NOT NULL,
		object_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(subject_id, object_id)
	)`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT NOT NULL DEFAULT '',
		subject_id TEXT NOT NULL,
		object_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(subject_id, object_id)
	)`

	sqlCreateBlocksTable = `CREATE TABLE IF NOT EXISTS blocks (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT NOT NULL DEFAULT '',
		subject_id TEXT NOT NULL,
		object_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(subject_id, object_id)
	)`

	sqlCreateRelationshipIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_object_id ON follows(object_id);
		CREATE INDEX IF NOT EXISTS idx_follow_requests_object_id ON follow_requests(object_id);
		CREATE INDEX IF NOT EXISTS idx_blocks_object_id ON blocks(object_id);
	`

	sqlCreateStatusesTable = `CREATE TABLE IF NOT EXISTS statuses (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		actor_id TEXT NOT NULL,
		type TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		quote TEXT NOT NULL DEFAULT '',
		rating REAL NOT NULL DEFAULT 0,
		reply_parent_id TEXT NOT NULL DEFAULT '',
		book_id TEXT NOT NULL DEFAULT '',
		privacy TEXT NOT NULL DEFAULT 'public',
		local INTEGER NOT NULL DEFAULT 0,
		published TIMESTAMP,
		deleted INTEGER NOT NULL DEFAULT 0,
		deleted_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateFavoritesTable = `CREATE TABLE IF NOT EXISTS favorites (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		actor_id TEXT NOT NULL,
		status_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(actor_id, status_id)
	)`

	sqlCreateBoostsTable = `CREATE TABLE IF NOT EXISTS boosts (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		actor_id TEXT NOT NULL,
		status_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(actor_id, status_id)
	)`

	sqlCreateNotificationsTable = `CREATE TABLE IF NOT EXISTS notifications (
		id TEXT NOT NULL PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		related_actor_id TEXT NOT NULL DEFAULT '',
		related_status_id TEXT NOT NULL DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(user_id, kind, related_actor_id, related_status_id)
	)`

	sqlCreateBooksTable = `CREATE TABLE IF NOT EXISTS books (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		subtitle TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		isbn13 TEXT NOT NULL DEFAULT '',
		sync INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateShelvesTable = `CREATE TABLE IF NOT EXISTS shelves (
		id TEXT NOT NULL PRIMARY KEY,
		uri TEXT UNIQUE NOT NULL,
		actor_id TEXT NOT NULL,
		name TEXT NOT NULL,
		identifier TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateShelfBooksTable = `CREATE TABLE IF NOT EXISTS shelf_books (
		shelf_id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(shelf_id, book_id)
	)`

	sqlCreateTagsTable = `CREATE TABLE IF NOT EXISTS tags (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateUserTagsTable = `CREATE TABLE IF NOT EXISTS user_tags (
		actor_id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		tag_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY(actor_id, book_id, tag_id)
	)`

	// Job queue. Scheduling columns hold unix milliseconds so due jobs can be
	// selected with plain integer comparisons.
	sqlCreateJobsTable = `CREATE TABLE IF NOT EXISTS jobs (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		payload TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_run_at INTEGER NOT NULL,
		locked_until INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateJobsIndices = `
		CREATE INDEX IF NOT EXISTS idx_jobs_next_run_at ON jobs(next_run_at);
	`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	tables := []struct {
		name string
		sql  string
	}{
		{"actors", sqlCreateActorsTable},
		{"federated_servers", sqlCreateServersTable},
		{"follow_requests", sqlCreateFollowRequestsTable},
		{"follows", sqlCreateFollowsTable},
		{"blocks", sqlCreateBlocksTable},
		{"statuses", sqlCreateStatusesTable},
		{"favorites", sqlCreateFavoritesTable},
		{"boosts", sqlCreateBoostsTable},
		{"notifications", sqlCreateNotificationsTable},
		{"books", sqlCreateBooksTable},
		{"shelves", sqlCreateShelvesTable},
		{"shelf_books", sqlCreateShelfBooksTable},
		{"tags", sqlCreateTagsTable},
		{"user_tags", sqlCreateUserTagsTable},
		{"jobs", sqlCreateJobsTable},
	}

	return db.wrapTransaction(context.Background(), func(tx *sql.Tx) error {
		for _, table := range tables {
			if err := db.createTableIfNotExists(tx, table.sql, table.name); err != nil {
				return err
			}
		}

		for _, indices := range []string{sqlCreateActorsIndices, sqlCreateRelationshipIndices, sqlCreateJobsIndices} {
			if _, err := tx.Exec(indices); err != nil {
				log.Warn().Err(err).Msg("Database: Failed to create indices")
			}
		}
		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		log.Error().Err(err).Str("table", tableName).Msg("Database: Error creating table")
		return err
	}
	log.Debug().Str("table", tableName).Msg("Database: Table created or already exists")
	return nil
}
