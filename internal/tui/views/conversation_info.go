package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/wpprtc/internal/tui/model"
	"github.com/matheus3301/wpprtc/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo shows the participants and presence of a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitleColor(theme.TitleColor)
	return &ConversationInfo{TextView: tv, theme: theme}
}

func (ci *ConversationInfo) Name() string { return "Details" }

func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "esc", Description: "Back"}}
}

func (ci *ConversationInfo) Update(c model.Conversation, localID string, p model.Presence) {
	label, value := ui.Tag(ci.theme.FgColor), ui.Tag(ci.theme.CounterColor)

	names := make([]string, 0, len(c.Participants))
	for _, u := range c.Participants {
		n := model.DisplayName(u)
		if u.ID == localID {
			n += " (you)"
		}
		names = append(names, n)
	}

	presence := "unknown"
	switch {
	case p.Online:
		presence = "online"
	case p.LastSeen > 0:
		presence = "last seen " + time.UnixMilli(p.LastSeen).Local().Format("Jan 02 15:04")
	case p.Known:
		presence = "offline"
	}

	last := "-"
	if c.LastMessage != nil {
		last = preview(c.LastMessage)
	}

	rows := [][2]string{
		{"Conversation:", c.ID},
		{"Participants:", strings.Join(names, ", ")},
		{"Peer id:", c.Peer(localID).ID},
		{"Presence:", presence},
		{"Unread:", fmt.Sprintf("%d", c.UnreadCount)},
		{"Last message:", last},
	}
	var b strings.Builder
	b.WriteByte('\n')
	for _, r := range rows {
		fmt.Fprintf(&b, " [%s::b]%-14s[-:-:-] [%s]%s[-]\n", label, r[0], value, clean(r[1]))
	}
	ci.SetText(b.String())
	ci.SetTitle(fmt.Sprintf(" %s ", clean(c.Title(localID))))
}
