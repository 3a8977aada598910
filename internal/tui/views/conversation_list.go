package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/wpprtc/internal/tui/model"
	"github.com/matheus3301/wpprtc/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the root page: one row per conversation.
type ConversationList struct {
	*tview.Table
	theme   *ui.Theme
	localID string
	convs   []model.Conversation
	visible []model.Conversation
	filter  string
	now     func() time.Time
}

func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetTitleColor(theme.TitleColor)
	table.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.TableCursorFg).Background(theme.TableCursorBg))

	cl := &ConversationList{Table: table, theme: theme, now: time.Now}
	cl.render()
	return cl
}

func (cl *ConversationList) Name() string { return "Conversations" }

func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: "R", Description: "Refresh"},
		{Key: "1-9", Description: "Jump"},
	}
}

// Update replaces the rows. The selection stays on the same conversation
// when it is still listed.
func (cl *ConversationList) Update(convs []model.Conversation, localID string) {
	selected := cl.Selected()
	cl.convs, cl.localID = convs, localID
	cl.render()
	for i, c := range cl.visible {
		if c.ID == selected {
			cl.Select(i+1, 0)
			return
		}
	}
}

// SetFilter narrows the rows to titles or previews containing filter.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
	cl.Select(1, 0)
}

func (cl *ConversationList) Filter() string { return cl.filter }

// Selected returns the id of the highlighted conversation.
func (cl *ConversationList) Selected() string {
	row, _ := cl.GetSelection()
	return cl.At(row)
}

// At returns the id shown on row n (1-based, as rows 0 is the header).
func (cl *ConversationList) At(n int) string {
	if n < 1 || n > len(cl.visible) {
		return ""
	}
	return cl.visible[n-1].ID
}

func (cl *ConversationList) render() {
	cl.Clear()
	cl.visible = cl.visible[:0]
	for _, c := range cl.convs {
		if cl.filter == "" || containsFold(c.Title(cl.localID), cl.filter) || containsFold(preview(c.LastMessage), cl.filter) {
			cl.visible = append(cl.visible, c)
		}
	}

	for col, h := range []string{" #", " NAME", " LAST MESSAGE", " TIME", " UNREAD"} {
		cl.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(map[int]int{1: 1, 2: 3}[col]))
	}

	now := cl.now()
	for i, c := range cl.visible {
		row := i + 1
		fg := cl.theme.FgColor
		unread := ""
		if c.UnreadCount > 0 {
			fg = cl.theme.CounterColor
			unread = fmt.Sprintf("%d", c.UnreadCount)
		}
		var when string
		if c.LastMessage != nil {
			when = clock(messageTime(*c.LastMessage), now)
		}
		cl.SetCell(row, 0, tview.NewTableCell(fmt.Sprintf(" %d", row)).SetTextColor(cl.theme.MutedColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+clean(c.Title(cl.localID))).SetExpansion(1).SetTextColor(fg))
		cl.SetCell(row, 2, tview.NewTableCell(" "+clean(preview(c.LastMessage))).SetExpansion(3).SetMaxWidth(60).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 3, tview.NewTableCell(" "+when).SetAlign(tview.AlignRight).SetTextColor(cl.theme.MutedColor))
		cl.SetCell(row, 4, tview.NewTableCell(" "+unread).SetAlign(tview.AlignRight).SetTextColor(cl.theme.CounterColor))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) /%s ", len(cl.visible), len(cl.convs), tview.Escape(cl.filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}
