package store

import (
	"fmt"
	"strings"
	"time"
)

const upsertMessage = `
	INSERT INTO messages (conversation_id, msg_id, sender_id, receiver_id, content, content_type, media_url, status, reactions, deleted, timestamp, stored_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
		content = excluded.content,
		media_url = excluded.media_url,
		status = excluded.status,
		reactions = excluded.reactions,
		deleted = excluded.deleted`

// UpsertMessage inserts or updates a message (idempotent on conversation_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessage, messageArgs(m, time.Now().UnixMilli())...)
	return err
}

// ReplaceMessages stores a freshly fetched history for one conversation.
// Rows no longer returned by the server are dropped.
func (db *DB) ReplaceMessages(conversationID string, msgs []Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for i := range msgs {
		msgs[i].ConversationID = conversationID
		if _, err := tx.Exec(upsertMessage, messageArgs(&msgs[i], now)...); err != nil {
			return fmt.Errorf("upsert message %s: %w", msgs[i].MsgID, err)
		}
	}
	return tx.Commit()
}

func messageArgs(m *Message, now int64) []any {
	reactions := m.Reactions
	if reactions == "" {
		reactions = "[]"
	}
	return []any{m.ConversationID, m.MsgID, m.SenderID, m.ReceiverID, m.Content, m.ContentType,
		m.MediaURL, m.Status, reactions, m.Deleted, m.Timestamp, now}
}

// MarkDeleted flags a message as deleted without forgetting it.
func (db *DB) MarkDeleted(msgID string) error {
	_, err := db.Exec(`UPDATE messages SET deleted = 1, content = '' WHERE msg_id = ?`, msgID)
	return err
}

// SetStatus updates the delivery status of the given messages.
func (db *DB) SetStatus(status string, msgIDs ...string) error {
	if len(msgIDs) == 0 {
		return nil
	}
	args := make([]any, 0, len(msgIDs)+1)
	args = append(args, status)
	for _, id := range msgIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(msgIDs)), ",")
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE msg_id IN (`+placeholders+`)`, args...)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by timestamp, newest first.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, receiver_id, content, content_type, media_url, status, reactions, deleted, timestamp
		FROM messages
		WHERE conversation_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.ReceiverID, &m.Content,
			&m.ContentType, &m.MediaURL, &m.Status, &m.Reactions, &m.Deleted, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
