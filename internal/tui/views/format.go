package views

import (
	"strings"
	"time"
	"unicode/utf8"

	chat "github.com/matheus3301/wpprtc/internal/model"
	"github.com/rivo/tview"
)

// clean strips codepoints that tcell renders with the wrong width (skin tone
// modifiers, joiners, variation selectors) and escapes tview color tags.
func clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r >= 0x1F3FB && r <= 0x1F3FF:
		case r == 0x200D:
		case r >= 0xFE00 && r <= 0xFE0F:
		case r >= 0xE0100 && r <= 0xE01EF:
		default:
			b.WriteRune(r)
		}
	}
	return tview.Escape(b.String())
}

// clock formats t as a time of day when it is on now's date and as a short
// date otherwise.
func clock(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return t.Format("15:04")
	}
	return t.Format("Jan 02")
}

func messageTime(m chat.Message) time.Time {
	t, err := m.Time()
	if err != nil {
		return time.Time{}
	}
	return t
}

// glyph is the delivery marker shown after outgoing messages.
func glyph(m chat.Message) string {
	switch {
	case m.Status == chat.StatusFailed:
		return "!"
	case m.Pending():
		return "…"
	case m.Status == chat.StatusSeen:
		return "✓✓"
	case m.Status == chat.StatusDelivered:
		return "✓✓"
	default:
		return "✓"
	}
}

// preview is the one line summary of a message.
func preview(m *chat.Message) string {
	if m == nil {
		return ""
	}
	if m.Deleted {
		return "message deleted"
	}
	text := strings.Join(strings.Fields(m.Content), " ")
	if m.ContentType == chat.KindImage || m.ContentType == chat.KindVideo {
		if text == "" {
			return "[" + string(m.ContentType) + "]"
		}
		return "[" + string(m.ContentType) + "] " + text
	}
	return text
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
