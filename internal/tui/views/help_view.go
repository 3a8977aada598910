package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/wpprtc/internal/tui/ui"
	"github.com/rivo/tview"
)

type helpSection struct {
	title string
	keys  [][2]string
}

var help = []helpSection{
	{"Global", [][2]string{
		{":", "Command mode"},
		{"/", "Filter conversations"},
		{"?", "This help"},
		{"esc", "Back"},
		{"q", "Quit from the list"},
		{"ctrl-c", "Quit"},
	}},
	{"Conversations", [][2]string{
		{"enter", "Open conversation"},
		{"1-9", "Open the nth row"},
		{"R", "Refetch from the server"},
	}},
	{"Thread", [][2]string{
		{"i", "Focus the composer (enter sends)"},
		{"c / v", "Start an audio / video call"},
		{"r", "Retry failed sends"},
		{"d", "Conversation details"},
	}},
	{"Call", [][2]string{
		{"a", "Accept incoming call"},
		{"x", "Reject incoming call"},
		{"e", "End call"},
		{"m / v", "Toggle microphone / camera"},
	}},
	{"Commands", [][2]string{
		{":chat <name>", "Open a conversation by name"},
		{":search <text>", "Search cached messages"},
		{":call [audio|video]", "Call the open conversation"},
		{":accept :reject :end", "Answer or hang up"},
		{":mute [audio|video]", "Toggle sending audio or video"},
		{":retry :discard", "Resend or drop failed sends"},
		{":react <emoji>", "React to the newest message"},
		{":reconnect", "Dial the signaling server again"},
		{":refresh", "Refetch conversations"},
		{":quit", "Quit"},
	}},
}

// HelpView lists the key bindings and commands.
type HelpView struct {
	*tview.TextView
}

func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	key := ui.Tag(theme.MenuKeyColor)
	var b strings.Builder
	for _, s := range help {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", s.title)
		for _, k := range s.keys {
			fmt.Fprintf(&b, "  [%s]%-22s[-] %s\n", key, tview.Escape(k[0]), k[1])
		}
	}
	tv.SetText(b.String())
	return &HelpView{TextView: tv}
}

func (hv *HelpView) Name() string { return "Help" }

func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{{Key: "esc", Description: "Back"}}
}
