package store

import (
	"database/sql"
	"fmt"
	"time"
)

const upsertConversation = `
	INSERT INTO conversations (id, participants, unread_count, last_message_id, last_message_preview, last_message_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		participants = excluded.participants,
		unread_count = excluded.unread_count,
		last_message_id = excluded.last_message_id,
		last_message_preview = excluded.last_message_preview,
		last_message_at = excluded.last_message_at,
		updated_at = excluded.updated_at`

// UpsertConversation inserts or updates a conversation.
func (db *DB) UpsertConversation(c *Conversation) error {
	_, err := db.Exec(upsertConversation,
		c.ID, c.Participants, c.UnreadCount, c.LastMessageID, c.LastMessagePreview, c.LastMessageAt, time.Now().UnixMilli())
	return err
}

// ReplaceConversations swaps the cached list for convs in one transaction.
func (db *DB) ReplaceConversations(convs []Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, c := range convs {
		if _, err := tx.Exec(upsertConversation,
			c.ID, c.Participants, c.UnreadCount, c.LastMessageID, c.LastMessagePreview, c.LastMessageAt, now); err != nil {
			return fmt.Errorf("upsert conversation %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListConversations returns conversations, most recent activity first.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, participants, unread_count, last_message_id, last_message_preview, last_message_at
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Participants, &c.UnreadCount, &c.LastMessageID, &c.LastMessagePreview, &c.LastMessageAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single conversation, or nil if it is not cached.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	var c Conversation
	err := db.QueryRow(`
		SELECT id, participants, unread_count, last_message_id, last_message_preview, last_message_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Participants, &c.UnreadCount, &c.LastMessageID, &c.LastMessagePreview, &c.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
