package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// Menu lists the key hints of the current page.
type Menu struct {
	*tview.TextView
	theme *Theme
}

func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)
	return &Menu{TextView: tv, theme: theme}
}

// Update renders hints in two columns.
func (m *Menu) Update(hints []MenuHint) {
	key := Tag(m.theme.MenuKeyColor)
	cells := make([]string, 0, len(hints))
	for _, h := range hints {
		cells = append(cells, fmt.Sprintf("[%s::b]%-9s[-:-:-] %-12s", key, "<"+tview.Escape(h.Key)+">", h.Description))
	}
	var b strings.Builder
	half := (len(cells) + 1) / 2
	for i := 0; i < half; i++ {
		b.WriteString(cells[i])
		if j := i + half; j < len(cells) {
			b.WriteString("  " + cells[j])
		}
		b.WriteByte('\n')
	}
	m.SetText(b.String())
}
