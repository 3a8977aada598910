package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"
)

// ProfileData is what the header shows about the connected daemon.
type ProfileData struct {
	Profile       string
	User          string
	Link          string
	Call          string
	Conversations int
	Pending       int
	Failed        int
	Uptime        time.Duration
}

// ProfileInfo is the header panel describing the daemon.
type ProfileInfo struct {
	*tview.TextView
	theme *Theme
}

func NewProfileInfo(theme *Theme) *ProfileInfo {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)
	return &ProfileInfo{TextView: tv, theme: theme}
}

func (pi *ProfileInfo) Update(d ProfileData) {
	label := Tag(pi.theme.FgColor)
	value := Tag(pi.theme.CounterColor)

	link := Tag(pi.theme.LinkDownColor)
	if d.Link == "CONNECTED" {
		link = Tag(pi.theme.LinkUpColor)
	}
	callColor := value
	if d.Call != "" && d.Call != "idle" {
		callColor = Tag(pi.theme.CallColor)
	}
	sends := fmt.Sprintf("%d", d.Pending)
	if d.Failed > 0 {
		sends = fmt.Sprintf("%d (%d failed)", d.Pending, d.Failed)
	}

	rows := [][2]string{
		{"Profile:", fmt.Sprintf("[%s]%s[-]", value, tview.Escape(d.Profile))},
		{"User:", fmt.Sprintf("[%s]%s[-]", value, tview.Escape(orDash(d.User)))},
		{"Link:", fmt.Sprintf("[%s]%s[-]", link, orDash(d.Link))},
		{"Call:", fmt.Sprintf("[%s]%s[-]", callColor, orDash(d.Call))},
		{"Chats:", fmt.Sprintf("[%s]%d[-]", value, d.Conversations)},
		{"Sends:", fmt.Sprintf("[%s]%s[-]", value, sends)},
		{"Uptime:", fmt.Sprintf("[%s]%s[-]", value, FormatUptime(d.Uptime))},
	}
	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "[%s::b]%-8s[-:-:-] %s\n", label, r[0], r[1])
	}
	pi.SetText(b.String())
}

// FormatUptime renders d as "3h12m" or "7m".
func FormatUptime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
