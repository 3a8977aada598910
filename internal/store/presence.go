package store

import (
	"database/sql"
	"time"
)

// UpsertPresence stores the last known state of a user. A zero LastSeen
// keeps the previous value.
func (db *DB) UpsertPresence(p *Presence) error {
	_, err := db.Exec(`
		INSERT INTO presence (user_id, online, last_seen, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			online = excluded.online,
			last_seen = CASE WHEN excluded.last_seen != 0 THEN excluded.last_seen ELSE presence.last_seen END,
			updated_at = excluded.updated_at`,
		p.UserID, p.Online, p.LastSeen, time.Now().UnixMilli())
	return err
}

// GetPresence returns the cached presence of a user, or nil if never seen.
func (db *DB) GetPresence(userID string) (*Presence, error) {
	var p Presence
	err := db.QueryRow(`SELECT user_id, online, last_seen FROM presence WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.Online, &p.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ResetPresence marks everyone offline, used when the signaling link drops.
func (db *DB) ResetPresence() error {
	_, err := db.Exec(`UPDATE presence SET online = 0, updated_at = ? WHERE online = 1`, time.Now().UnixMilli())
	return err
}
