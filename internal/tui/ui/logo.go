package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// NewLogo returns the header logo.
func NewLogo(theme *Theme) *tview.TextView {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	title := Tag(theme.TitleColor)
	fmt.Fprintf(tv,
		"[%[1]s::b]╦═╗╔╦╗╔═╗[-:-:-]\n"+
			"[%[1]s::b]╠╦╝ ║ ║  [-:-:-]\n"+
			"[%[1]s::b]╩╚═ ╩ ╚═╝[-:-:-]\n"+
			"[%[2]s]calls & chat[-]",
		title, Tag(theme.FgColor))
	return tv
}
