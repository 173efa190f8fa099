package db

import (
	"context"
	"database/sql"
)

const (
	sqlCreateFollowersTable = `CREATE TABLE IF NOT EXISTS followers (
		actor_id TEXT NOT NULL PRIMARY KEY,
		inbox_url TEXT NOT NULL,
		shared_inbox_url TEXT,
		follow_activity_id TEXT NOT NULL DEFAULT '',
		followed_at INTEGER NOT NULL
	)`

	sqlCreateFollowersIndices = `
		CREATE INDEX IF NOT EXISTS idx_followers_followed_at ON followers(followed_at);
		CREATE INDEX IF NOT EXISTS idx_followers_shared_inbox ON followers(shared_inbox_url);
	`
)

// RunMigrations executes all database migrations
func (db *DB) RunMigrations() error {
	return db.wrapTransaction(context.Background(), func(tx *sql.Tx) error {
		if err := db.createTableIfNotExists(tx, sqlCreateFollowersTable, "followers"); err != nil {
			return err
		}

		if _, err := tx.Exec(sqlCreateFollowersIndices); err != nil {
			db.log.Warn("Failed to create followers indices", "err", err)
		}
		return nil
	})
}

func (db *DB) createTableIfNotExists(tx *sql.Tx, createSQL string, tableName string) error {
	_, err := tx.Exec(createSQL)
	if err != nil {
		db.log.Error("Error creating table", "table", tableName, "err", err)
		return err
	}
	db.log.Debug("Table created or already exists", "table", tableName)
	return nil
}
