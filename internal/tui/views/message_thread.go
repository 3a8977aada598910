package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	chat "github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/tui/model"
	"github.com/matheus3301/wpprtc/internal/tui/ui"
	"github.com/rivo/tview"
)

// typingInterval throttles typing notifications sent from the composer.
const typingInterval = 3 * time.Second

// MessageThread shows the open conversation with a composer below it.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	onSend   func(text string)
	onTyping func()
	lastType time.Time
	now      func() time.Time
}

func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().SetLabel(" > ").SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i) ")
	composer.SetTitleColor(theme.TitleColor)

	mt := &MessageThread{
		Flex: tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(messages, 0, 1, true).
			AddItem(composer, 3, 0, false),
		theme:    theme,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}

	composer.SetChangedFunc(func(text string) {
		if text == "" || mt.onTyping == nil {
			return
		}
		if now := mt.now(); now.Sub(mt.lastType) >= typingInterval {
			mt.lastType = now
			mt.onTyping()
		}
	})
	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		if text := strings.TrimSpace(composer.GetText()); text != "" {
			composer.SetText("")
			mt.lastType = time.Time{}
			mt.onSend(text)
		}
	})
	return mt
}

func (mt *MessageThread) Name() string { return "Thread" }

func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "c", Description: "Audio call"},
		{Key: "v", Description: "Video call"},
		{Key: "r", Description: "Retry failed"},
		{Key: "d", Description: "Details"},
		{Key: "esc", Description: "Back"},
	}
}

func (mt *MessageThread) SetOnSend(fn func(text string)) { mt.onSend = fn }

func (mt *MessageThread) SetOnTyping(fn func()) { mt.onTyping = fn }

func (mt *MessageThread) Messages() *tview.TextView { return mt.messages }

func (mt *MessageThread) Composer() *tview.InputField { return mt.composer }

// SetHeader names the thread after the peer and adds the presence line.
func (mt *MessageThread) SetHeader(name string, p model.Presence) {
	state := ""
	switch {
	case p.Typing:
		state = " typing…"
	case p.Online:
		state = " online"
	case p.LastSeen > 0:
		state = " last seen " + clock(time.UnixMilli(p.LastSeen), mt.now())
	}
	mt.messages.SetTitle(fmt.Sprintf(" %s[%s]%s[-] ", clean(name), ui.Tag(mt.theme.MutedColor), state))
}

// Update renders days oldest first and scrolls to the newest message.
func (mt *MessageThread) Update(days []model.Day, localID string) {
	mt.messages.SetText(renderThread(days, localID, mt.theme))
	mt.messages.ScrollToEnd()
}

// Reset empties the thread and the composer.
func (mt *MessageThread) Reset() {
	mt.messages.Clear()
	mt.composer.SetText("")
}

func renderThread(days []model.Day, localID string, theme *ui.Theme) string {
	var b strings.Builder
	muted := ui.Tag(theme.MutedColor)
	if len(days) == 0 {
		fmt.Fprintf(&b, "[%s]no messages yet[-]", muted)
		return b.String()
	}
	for _, d := range days {
		fmt.Fprintf(&b, "[%s::b]── %s ──[-:-:-]\n\n", muted, tview.Escape(d.Label))
		for _, m := range d.Messages {
			writeMessage(&b, m, localID, theme)
		}
	}
	return b.String()
}

func writeMessage(b *strings.Builder, m chat.Message, localID string, theme *ui.Theme) {
	muted := ui.Tag(theme.MutedColor)
	own := m.Sender.ID == localID
	name, color := model.DisplayName(m.Sender), ui.Tag(theme.FgColor)
	if own {
		name, color = "You", ui.Tag(theme.OwnMessageColor)
	}

	stamp := ""
	if t := messageTime(m); !t.IsZero() {
		stamp = t.Local().Format("15:04")
	}
	fmt.Fprintf(b, "[%s::b]%s[-:-:-] [%s]%s", color, clean(name), muted, stamp)
	if own {
		g := glyph(m)
		switch {
		case m.Status == chat.StatusFailed:
			fmt.Fprintf(b, " [%s]%s failed, r to retry[-]", ui.Tag(theme.FlashErrColor), g)
		case m.Status == chat.StatusSeen:
			fmt.Fprintf(b, " [%s]%s[-]", ui.Tag(theme.LinkUpColor), g)
		default:
			fmt.Fprintf(b, " %s", g)
		}
	}
	b.WriteString("[-]\n")

	body := clean(m.Content)
	switch {
	case m.Deleted:
		body = fmt.Sprintf("[%s::i]message deleted[-:-:-]", muted)
	case m.MediaURL != "":
		body = strings.TrimSpace(fmt.Sprintf("[%s]%s[-] %s", muted, tview.Escape("["+string(m.ContentType)+"]"), body))
	}
	b.WriteString(body + "\n")

	if len(m.Reactions) > 0 {
		emojis := make([]string, 0, len(m.Reactions))
		for _, r := range m.Reactions {
			emojis = append(emojis, clean(r.Emoji))
		}
		fmt.Fprintf(b, "[%s]%s[-]\n", muted, strings.Join(emojis, " "))
	}
	b.WriteByte('\n')
}
