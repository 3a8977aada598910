package store

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMessages finds messages whose content contains query, case-insensitively.
// An empty conversationID searches every conversation.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT id, conversation_id, msg_id, sender_id, receiver_id, content, content_type, media_url, status, reactions, deleted, timestamp
		FROM messages
		WHERE deleted = 0 AND content LIKE ? ESCAPE '\'`
	args := []any{"%" + likeEscaper.Replace(query) + "%"}
	if conversationID != "" {
		q += " AND conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		m := &r.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.ReceiverID, &m.Content,
			&m.ContentType, &m.MediaURL, &m.Status, &m.Reactions, &m.Deleted, &m.Timestamp); err != nil {
			return nil, err
		}
		r.Snippet = snippet(m.Content, query, 32)
		results = append(results, r)
	}
	return results, rows.Err()
}

// snippet returns up to width runes on each side of the first match,
// with the match wrapped in << >>.
func snippet(content, query string, width int) string {
	runes := []rune(content)
	lower := []rune(strings.ToLower(content))
	q := []rune(strings.ToLower(query))
	at := -1
	for i := 0; i+len(q) <= len(lower); i++ {
		if string(lower[i:i+len(q)]) == string(q) {
			at = i
			break
		}
	}
	if at < 0 || len(q) == 0 {
		return content
	}
	start, end := max(0, at-width), min(len(runes), at+len(q)+width)
	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(string(runes[start:at]))
	b.WriteString("<<")
	b.WriteString(string(runes[at : at+len(q)]))
	b.WriteString(">>")
	b.WriteString(string(runes[at+len(q) : end]))
	if end < len(runes) {
		b.WriteString("...")
	}
	return b.String()
}
