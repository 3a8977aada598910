package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/wpprtc/internal/tui/model"
	"github.com/matheus3301/wpprtc/internal/tui/ui"
	"github.com/rivo/tview"
)

// SearchView runs message searches and lists the hits.
type SearchView struct {
	*tview.Flex
	theme   *ui.Theme
	input   *tview.InputField
	results *tview.Table
	hits    []model.SearchHit
	titles  func(conversationID string) string
	onQuery func(query string)
}

func NewSearchView(theme *ui.Theme) *SearchView {
	input := tview.NewInputField().SetLabel(" Search: ").SetFieldWidth(0)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	results := tview.NewTable().SetSelectable(true, false).SetFixed(1, 0)
	results.SetBorder(true)
	results.SetBorderColor(theme.BorderColor)
	results.SetBackgroundColor(theme.BgColor)
	results.SetTitle(" Results ")
	results.SetTitleColor(theme.TitleColor)
	results.SetSelectedStyle(tcell.StyleDefault.Foreground(theme.TableCursorFg).Background(theme.TableCursorBg))

	sv := &SearchView{
		Flex: tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(input, 1, 0, true).
			AddItem(results, 0, 1, false),
		theme:   theme,
		input:   input,
		results: results,
		titles:  func(id string) string { return id },
	}
	input.SetDoneFunc(func(key tcell.Key) {
		q := strings.TrimSpace(input.GetText())
		if key == tcell.KeyEnter && q != "" && sv.onQuery != nil {
			sv.onQuery(q)
		}
	})
	return sv
}

func (sv *SearchView) Name() string { return "Search" }

func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "enter", Description: "Search/Open"},
		{Key: "tab", Description: "Results"},
		{Key: "esc", Description: "Back"},
	}
}

func (sv *SearchView) SetOnQuery(fn func(query string)) { sv.onQuery = fn }

// SetTitles sets how conversation ids are shown in the results.
func (sv *SearchView) SetTitles(fn func(conversationID string) string) { sv.titles = fn }

func (sv *SearchView) Input() *tview.InputField { return sv.input }

func (sv *SearchView) Results() *tview.Table { return sv.results }

// Start prefills the query.
func (sv *SearchView) Start(query string) {
	sv.input.SetText(query)
}

// Update renders hits. Snippets mark matches with brackets.
func (sv *SearchView) Update(query string, hits []model.SearchHit) {
	sv.hits = hits
	sv.results.Clear()
	for col, h := range []string{" CHAT", " MATCH", " WHEN"} {
		sv.results.SetCell(0, col, tview.NewTableCell(h).
			SetSelectable(false).
			SetTextColor(sv.theme.TableHeaderFg).
			SetAttributes(tcell.AttrBold))
	}
	now := time.Now()
	for i, h := range hits {
		row := i + 1
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+clean(sv.titles(h.Message.ConversationID))).SetMaxWidth(24).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+clean(h.Snippet)).SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(" "+clock(messageTime(h.Message), now)).SetTextColor(sv.theme.MutedColor))
	}
	sv.results.SetTitle(fmt.Sprintf(" Results for %q (%d) ", tview.Escape(query), len(hits)))
	sv.results.Select(1, 0)
}

// Selected returns the conversation id of the highlighted hit.
func (sv *SearchView) Selected() string {
	row, _ := sv.results.GetSelection()
	if row < 1 || row > len(sv.hits) {
		return ""
	}
	return sv.hits[row-1].Message.ConversationID
}
