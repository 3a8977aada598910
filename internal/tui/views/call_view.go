package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/wpprtc/internal/tui/model"
	"github.com/matheus3301/wpprtc/internal/tui/ui"
	"github.com/rivo/tview"
)

// CallView shows the current call session and the actions it allows.
type CallView struct {
	*tview.TextView
	theme *ui.Theme
	now   func() time.Time
}

func NewCallView(theme *ui.Theme) *CallView {
	tv := tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignCenter)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.CallColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Call ")
	tv.SetTitleColor(theme.TitleColor)
	return &CallView{TextView: tv, theme: theme, now: time.Now}
}

func (cv *CallView) Name() string { return "Call" }

func (cv *CallView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "a", Description: "Accept"},
		{Key: "x", Description: "Reject"},
		{Key: "e", Description: "End"},
		{Key: "m", Description: "Mic"},
		{Key: "v", Description: "Camera"},
		{Key: "esc", Description: "Back"},
	}
}

func (cv *CallView) Update(c model.Call) {
	cv.SetText(renderCall(c, cv.now(), cv.theme))
}

func renderCall(c model.Call, now time.Time, theme *ui.Theme) string {
	muted, accent := ui.Tag(theme.MutedColor), ui.Tag(theme.CallColor)
	if c.State == "" || c.State == "idle" {
		return fmt.Sprintf("\n\n[%s]no call in progress[-]", muted)
	}

	kind := c.Kind
	if kind == "" {
		kind = "video"
	}
	var b strings.Builder
	b.WriteString("\n\n")
	switch {
	case c.Incoming():
		fmt.Fprintf(&b, "[%s::b]incoming %s call[-:-:-]\n\n", accent, kind)
	case c.Role == "caller":
		fmt.Fprintf(&b, "[%s::b]outgoing %s call[-:-:-]\n\n", accent, kind)
	default:
		fmt.Fprintf(&b, "[%s::b]%s call[-:-:-]\n\n", accent, kind)
	}
	fmt.Fprintf(&b, "[::b]%s[-:-:-]\n\n", clean(model.DisplayName(c.Remote)))
	fmt.Fprintf(&b, "%s", strings.ToUpper(c.State))
	if c.State == "connected" && c.ConnectedAt > 0 {
		fmt.Fprintf(&b, "  %s", elapsed(now.Sub(time.UnixMilli(c.ConnectedAt))))
	}
	b.WriteByte('\n')
	if c.Reason != "" {
		fmt.Fprintf(&b, "[%s]%s[-]\n", muted, clean(c.Reason))
	}
	if c.State == "connected" && !c.RemoteStream {
		fmt.Fprintf(&b, "[%s]waiting for remote media[-]\n", muted)
	}
	if off := mutedKinds(c); off != "" {
		fmt.Fprintf(&b, "[%s]%s muted[-]\n", ui.Tag(theme.FlashWarnColor), off)
	}

	b.WriteString("\n")
	switch {
	case c.Incoming():
		fmt.Fprintf(&b, "[%s]a[-] accept   [%s]x[-] reject", accent, accent)
	case c.Live():
		fmt.Fprintf(&b, "[%s]e[-] hang up   [%s]m[-] mic", accent, accent)
		if kind == "video" {
			fmt.Fprintf(&b, "   [%s]v[-] camera", accent)
		}
	default:
		fmt.Fprintf(&b, "[%s]esc[-] close", accent)
	}
	return b.String()
}

func mutedKinds(c model.Call) string {
	switch {
	case c.AudioMuted && c.VideoMuted:
		return "mic and camera"
	case c.AudioMuted:
		return "mic"
	case c.VideoMuted:
		return "camera"
	}
	return ""
}

// elapsed formats a call duration as m:ss or h:mm:ss.
func elapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d.Seconds())
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
