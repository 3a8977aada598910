package store

import "time"

// QueueOutbox records an optimistic send before the server has answered.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	created := e.CreatedAt
	if created == 0 {
		created = now
	}
	_, err := db.Exec(`
		INSERT INTO outbox (temp_id, conversation_id, receiver_id, content, status, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', '', ?, ?)
		ON CONFLICT(temp_id) DO UPDATE SET
			status = 'pending',
			error_message = '',
			updated_at = excluded.updated_at`,
		e.TempID, e.ConversationID, e.ReceiverID, e.Content, created, now)
	return err
}

// MarkOutboxFailed keeps the entry around for a later retry or discard.
func (db *DB) MarkOutboxFailed(tempID, errMsg string) error {
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE temp_id = ?`,
		errMsg, time.Now().UnixMilli(), tempID)
	return err
}

// RemoveOutbox drops an entry once it is confirmed or discarded.
func (db *DB) RemoveOutbox(tempID string) error {
	_, err := db.Exec(`DELETE FROM outbox WHERE temp_id = ?`, tempID)
	return err
}

// Outbox returns unconfirmed sends, oldest first.
func (db *DB) Outbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT temp_id, conversation_id, receiver_id, content, status, error_message, created_at
		FROM outbox ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.TempID, &e.ConversationID, &e.ReceiverID, &e.Content, &e.Status, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
