package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB is a profile's local cache. Everything in it can be rebuilt from the
// service, so callers may wipe it freely.
type DB struct {
	*sql.DB
	path string
}

// cacheTables are the tables that hold data owned by one local user.
var cacheTables = []string{"conversations", "messages", "outbox", "presence", "call_log"}

// Open opens (creating if needed) the cache at path. Writers wait up to five
// seconds for the lock, which covers the archiver and outbox writing at once.
func Open(path string) (*DB, error) {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "on")
	params.Set("_synchronous", "NORMAL")

	conn, err := sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open cache %s: %w", path, err)
	}
	return &DB{DB: conn, path: path}, nil
}

func (db *DB) Path() string { return db.path }

// Owner returns the user id the cache was last claimed by, or "".
func (db *DB) Owner() (string, error) {
	var owner string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = 'owner'`).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read cache owner: %w", err)
	}
	return owner, nil
}

// Claim binds the cache to userID. When a different user owned it, every
// cached row is removed first and wiped is true.
func (db *DB) Claim(userID string) (wiped bool, err error) {
	if userID == "" {
		return false, errors.New("claim cache: empty user id")
	}
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("claim cache: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var owner string
	err = tx.QueryRow(`SELECT value FROM meta WHERE key = 'owner'`).Scan(&owner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		owner, err = "", nil
	case err != nil:
		return false, fmt.Errorf("claim cache: %w", err)
	}
	if owner == userID {
		return false, tx.Commit()
	}

	if owner != "" {
		for _, table := range cacheTables {
			if _, err = tx.Exec(`DELETE FROM ` + table); err != nil {
				return false, fmt.Errorf("claim cache: clear %s: %w", table, err)
			}
		}
		wiped = true
	}
	if _, err = tx.Exec(`INSERT INTO meta (key, value) VALUES ('owner', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, userID); err != nil {
		return false, fmt.Errorf("claim cache: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("claim cache: %w", err)
	}
	return wiped, nil
}
