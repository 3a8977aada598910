package store

// RecordCall stores a finished call. Recording the same call twice keeps
// the first row.
func (db *DB) RecordCall(c *Call) error {
	_, err := db.Exec(`
		INSERT INTO call_log (call_id, peer_id, role, kind, final_state, reason, started_at, connected_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO NOTHING`,
		c.CallID, c.PeerID, c.Role, c.Kind, c.FinalState, c.Reason, c.StartedAt, c.ConnectedAt, c.EndedAt)
	return err
}

// ListCalls returns the call history, most recent first.
func (db *DB) ListCalls(limit int) ([]Call, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT call_id, peer_id, role, kind, final_state, reason, started_at, connected_at, ended_at
		FROM call_log ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var calls []Call
	for rows.Next() {
		var c Call
		if err := rows.Scan(&c.CallID, &c.PeerID, &c.Role, &c.Kind, &c.FinalState, &c.Reason, &c.StartedAt, &c.ConnectedAt, &c.EndedAt); err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}
