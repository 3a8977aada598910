package tui

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/wpprtc/internal/api"
	"github.com/matheus3301/wpprtc/internal/tui/keys"
	"github.com/matheus3301/wpprtc/internal/tui/model"
	"github.com/matheus3301/wpprtc/internal/tui/ui"
	"github.com/matheus3301/wpprtc/internal/tui/views"
	"github.com/rivo/tview"
	"google.golang.org/protobuf/types/known/structpb"
)

const statusInterval = 5 * time.Second

// Areas of the screen invalidated by daemon events.
const (
	dirtyList uint32 = 1 << iota
	dirtyThread
	dirtyStatus
	dirtyPresence
)

// App is the terminal client of one daemon.
type App struct {
	app      *tview.Application
	client   *api.Client
	vm       *model.ViewModel
	keys     *keys.Registry
	theme    *ui.Theme
	profile  string
	flash    *ui.Flash
	root     *tview.Flex
	header   *tview.Flex
	info     *ui.ProfileInfo
	menu     *ui.Menu
	pages    *ui.Pages
	crumbs   *ui.Crumbs
	flashBar *ui.FlashBar
	prompt   *ui.Prompt
	list     *views.ConversationList
	thread   *views.MessageThread
	details  *views.ConversationInfo
	search   *views.SearchView
	call     *views.CallView
	helpView *views.HelpView

	dirty     atomic.Uint32
	dirtyCh   chan struct{}
	shownCall string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp builds the UI around a connected control client.
func NewApp(c *api.Client, profile string, timeout time.Duration) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()
	a := &App{
		app:      tview.NewApplication(),
		client:   c,
		vm:       model.NewViewModel(c, timeout),
		keys:     keys.NewRegistry(),
		theme:    theme,
		profile:  profile,
		flash:    ui.NewFlash(),
		info:     ui.NewProfileInfo(theme),
		menu:     ui.NewMenu(theme),
		pages:    ui.NewPages(),
		crumbs:   ui.NewCrumbs(theme),
		flashBar: ui.NewFlashBar(theme),
		prompt:   ui.NewPrompt(theme),
		list:     views.NewConversationList(theme),
		thread:   views.NewMessageThread(theme),
		details:  views.NewConversationInfo(theme),
		search:   views.NewSearchView(theme),
		call:     views.NewCallView(theme),
		helpView: views.NewHelpView(theme),
		dirtyCh:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	r := a.keys
	r.AddGlobal(keys.Rune(':', "Command", func() { a.showPrompt(ui.PromptCommand) }))
	r.AddGlobal(keys.Rune('/', "Filter", func() {
		a.pages.Push(a.list.Name())
		a.showPrompt(ui.PromptFilter)
	}))
	r.AddGlobal(keys.Rune('?', "Help", func() { a.pages.Push(a.helpView.Name()) }))
	r.AddGlobal(keys.Key(tcell.KeyEscape, "", a.back))

	list := a.list.Name()
	r.AddView(list, keys.Rune('q', "", a.Stop))
	r.AddView(list, keys.Key(tcell.KeyEscape, "", func() {
		if a.list.Filter() != "" {
			a.list.SetFilter("")
		}
	}))
	r.AddView(list, keys.Rune('R', "", func() {
		a.do("refresh", func(ctx context.Context) error { return a.vm.RefreshConversations(ctx, true) },
			func() { a.list.Update(a.vm.Conversations(), a.vm.LocalID()) })
	}))
	for n := 1; n <= 9; n++ {
		row := n
		r.AddView(list, keys.Rune(rune('0'+n), "", func() {
			if id := a.list.At(row); id != "" {
				a.open(id)
			}
		}))
	}

	thread := a.thread.Name()
	r.AddView(thread, keys.Rune('i', "", func() { a.app.SetFocus(a.thread.Composer()) }))
	r.AddView(thread, keys.Rune('c', "", func() { a.startCall("audio") }))
	r.AddView(thread, keys.Rune('v', "", func() { a.startCall("video") }))
	r.AddView(thread, keys.Rune('r', "", a.retry))
	r.AddView(thread, keys.Rune('d', "", a.showDetails))

	call := a.call.Name()
	r.AddView(call, keys.Rune('a', "", a.accept))
	r.AddView(call, keys.Rune('x', "", a.reject))
	r.AddView(call, keys.Rune('e', "", a.end))
	r.AddView(call, keys.Rune('m', "", func() { a.toggleMute("audio") }))
	r.AddView(call, keys.Rune('v', "", func() { a.toggleMute("video") }))
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(row, _ int) {
		if id := a.list.At(row); id != "" {
			a.open(id)
		}
	})

	a.thread.SetOnSend(func(text string) {
		a.do("send", func(ctx context.Context) error { return a.vm.Send(ctx, text) }, a.renderThread)
	})
	a.thread.SetOnTyping(func() {
		go func() { _ = a.vm.Typing(a.ctx) }()
	})

	a.search.SetTitles(func(id string) string {
		for _, c := range a.vm.Conversations() {
			if c.ID == id {
				return c.Title(a.vm.LocalID())
			}
		}
		return id
	})
	a.search.SetOnQuery(a.runSearch)
	a.search.Results().SetSelectedFunc(func(_, _ int) {
		if id := a.search.Selected(); id != "" {
			a.open(id)
		}
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		if mode == ui.PromptFilter {
			a.list.SetFilter(text)
			return
		}
		if text != "" {
			a.run(ParseCommand(text))
		}
	})
	a.prompt.SetOnCancel(a.hidePrompt)

	a.pages.SetOnChange(func(top ui.Component, stack []string) {
		a.crumbs.Update(stack)
		a.updateMenu(top)
		if top != nil {
			a.app.SetFocus(top)
		}
		if top == ui.Component(a.search) {
			a.app.SetFocus(a.search.Input())
		}
	})
}

func (a *App) setupLayout() {
	a.header = tview.NewFlex().
		AddItem(a.info, 40, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewLogo(a.theme), 14, 0, false)

	for _, c := range []ui.Component{a.list, a.thread, a.details, a.search, a.call, a.helpView} {
		a.pages.Register(c)
	}

	a.root = tview.NewFlex().SetDirection(tview.FlexRow)
	a.layout(false)
	a.app.SetRoot(a.root, true)
	a.app.SetInputCapture(a.capture)
	a.pages.Reset(a.list.Name())
}

// layout rebuilds the root, with the prompt between header and pages when
// it is active.
func (a *App) layout(withPrompt bool) {
	a.root.Clear()
	a.root.AddItem(a.header, 8, 0, false)
	if withPrompt {
		a.root.AddItem(a.prompt, 3, 0, true)
	}
	a.root.AddItem(a.pages, 0, 1, !withPrompt).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)
}

func (a *App) capture(ev *tcell.EventKey) *tcell.EventKey {
	if field, ok := a.app.GetFocus().(*tview.InputField); ok {
		switch {
		case field == a.prompt.InputField:
		case ev.Key() == tcell.KeyEscape && field == a.thread.Composer():
			a.app.SetFocus(a.thread.Messages())
			return nil
		case ev.Key() == tcell.KeyEscape && field == a.search.Input():
			a.back()
			return nil
		case ev.Key() == tcell.KeyTab && field == a.search.Input():
			a.app.SetFocus(a.search.Results())
			return nil
		}
		return ev
	}
	if a.keys.HandleEvent(a.pages.Current(), ev) {
		return nil
	}
	return ev
}

func (a *App) updateMenu(top ui.Component) {
	var hints []ui.MenuHint
	if top != nil {
		hints = append(hints, top.Hints()...)
	}
	for _, h := range a.keys.Hints("") {
		hints = append(hints, ui.MenuHint{Key: h.Key, Description: h.Description})
	}
	a.menu.Update(hints)
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.layout(true)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.layout(false)
	if top := a.pages.Top(); top != nil {
		a.app.SetFocus(top)
	}
}

func (a *App) back() {
	switch a.pages.Pop() {
	case a.thread.Name():
		a.vm.Close()
		a.thread.Reset()
	case "":
		return
	}
	a.list.Update(a.vm.Conversations(), a.vm.LocalID())
}

// do runs fn off the UI goroutine, flashes its error and then redraws
// with then.
func (a *App) do(label string, fn func(ctx context.Context) error, then func()) {
	go func() {
		err := fn(a.ctx)
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.flash.Err(fmt.Errorf("%s: %w", label, err))
			}
			if then != nil {
				then()
			}
		})
	}()
}

func (a *App) open(id string) {
	a.do("open", func(ctx context.Context) error {
		if err := a.vm.Open(ctx, id); err != nil {
			return err
		}
		_ = a.vm.RefreshPresence(ctx)
		return a.vm.RefreshConversations(ctx, false)
	}, func() {
		if a.vm.Active() != id {
			return
		}
		a.renderThread()
		a.pages.Push(a.thread.Name())
	})
}

func (a *App) renderThread() {
	if a.vm.Active() == "" {
		return
	}
	local := a.vm.LocalID()
	if conv, ok := a.vm.ActiveConversation(); ok {
		a.thread.SetHeader(conv.Title(local), a.vm.Presence())
	}
	a.thread.Update(a.vm.Days(), local)
}

func (a *App) showDetails() {
	conv, ok := a.vm.ActiveConversation()
	if !ok {
		return
	}
	a.details.Update(conv, a.vm.LocalID(), a.vm.Presence())
	a.pages.Push(a.details.Name())
}

func (a *App) runSearch(query string) {
	a.search.Start(query)
	go func() {
		hits, err := a.vm.Search(a.ctx, query)
		a.app.QueueUpdateDraw(func() {
			if err != nil {
				a.flash.Err(fmt.Errorf("search: %w", err))
				return
			}
			a.search.Update(query, hits)
			a.app.SetFocus(a.search.Results())
		})
	}()
}

func (a *App) retry() {
	a.do("retry", func(ctx context.Context) error {
		n, err := a.vm.RetryFailed(ctx)
		if err == nil && n > 0 {
			a.flash.Info("resending %d message(s)", n)
		}
		return err
	}, a.renderThread)
}

func (a *App) startCall(kind string) {
	a.do("call", func(ctx context.Context) error { return a.vm.StartCall(ctx, kind) }, a.renderCall)
}

func (a *App) accept() {
	a.do("accept", a.vm.AcceptCall, a.renderCall)
}

func (a *App) reject() {
	a.do("reject", a.vm.RejectCall, a.renderCall)
}

func (a *App) end() {
	a.do("end", a.vm.EndCall, a.renderCall)
}

func (a *App) toggleMute(kind string) {
	a.do("mute", func(ctx context.Context) error { return a.vm.ToggleMute(ctx, kind) }, a.renderCall)
}

// renderCall refreshes everything that shows the call. The call page comes
// up once per new session.
func (a *App) renderCall() {
	c := a.vm.Call()
	a.call.Update(c)
	a.renderHeader()
	if !c.Live() || c.ID == "" || c.ID == a.shownCall {
		return
	}
	a.shownCall = c.ID
	if c.Incoming() {
		a.flash.Warn("incoming %s call from %s", c.Kind, model.DisplayName(c.Remote))
	}
	a.pages.Push(a.call.Name())
}

func (a *App) renderHeader() {
	st := a.vm.Status()
	user := st.Username
	if user == "" {
		user = st.UserID
	}
	a.info.Update(ui.ProfileData{
		Profile:       a.profile,
		User:          user,
		Link:          st.Link,
		Call:          a.vm.Call().State,
		Conversations: st.Conversations,
		Pending:       st.PendingSends,
		Failed:        st.FailedSends,
		Uptime:        time.Duration(st.UptimeMs) * time.Millisecond,
	})
}

func (a *App) run(cmd Command) {
	switch cmd.Name {
	case "quit":
		a.Stop()
	case "help":
		a.pages.Push(a.helpView.Name())
	case "search":
		a.pages.Push(a.search.Name())
		if cmd.Args != "" {
			a.runSearch(cmd.Args)
		}
	case "chat":
		id, ok := a.vm.FindConversation(cmd.Args)
		if !ok {
			a.flash.Warn("no conversation matches %q", cmd.Args)
			return
		}
		a.open(id)
	case "call":
		a.startCall(cmd.Args)
	case "accept":
		a.accept()
	case "reject":
		a.reject()
	case "end":
		a.end()
	case "mute":
		kind := cmd.Args
		if kind == "" {
			kind = "audio"
		}
		a.toggleMute(kind)
	case "retry":
		a.retry()
	case "discard":
		a.do("discard", func(ctx context.Context) error {
			_, err := a.vm.DiscardFailed(ctx)
			return err
		}, a.renderThread)
	case "react":
		if cmd.Args == "" {
			a.flash.Warn("usage: react <emoji>")
			return
		}
		a.do("react", func(ctx context.Context) error { return a.vm.ReactLast(ctx, cmd.Args) }, a.renderThread)
	case "reconnect":
		a.do("reconnect", a.vm.Reconnect, a.renderHeader)
	case "refresh":
		a.do("refresh", func(ctx context.Context) error { return a.vm.RefreshConversations(ctx, true) },
			func() { a.list.Update(a.vm.Conversations(), a.vm.LocalID()) })
	case "calls", "call-status":
		a.pages.Push(a.call.Name())
	default:
		a.flash.Warn("unknown command %q, see :help", cmd.Name)
	}
}

// Run loads the initial state, starts the background loops and blocks until
// the UI exits.
func (a *App) Run() error {
	a.flash.Info("connected to profile %s", a.profile)
	a.do("load", func(ctx context.Context) error {
		if err := a.vm.RefreshStatus(ctx); err != nil {
			return err
		}
		return a.vm.RefreshConversations(ctx, false)
	}, func() {
		a.list.Update(a.vm.Conversations(), a.vm.LocalID())
		a.renderCall()
	})

	go a.watch()
	go a.refresher()
	go a.ticker()
	go a.flashes()

	defer a.cancel()
	return a.app.Run()
}

// Stop ends the UI and its background loops.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// watch follows the daemon's event stream, resubscribing after errors.
func (a *App) watch() {
	for {
		stream, err := a.client.Watch(a.ctx, "")
		if err == nil {
			err = a.consume(stream)
		}
		if a.ctx.Err() != nil {
			return
		}
		a.flash.Warn("event stream lost: %v", err)
		select {
		case <-time.After(2 * time.Second):
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) consume(stream *api.EventStream) error {
	for {
		evt, err := stream.Recv()
		if err != nil {
			return err
		}
		fields := evt.GetFields()
		a.mark(fields["kind"].GetStringValue(), fields["payload"].GetStructValue().GetFields())
	}
}

func (a *App) mark(kind string, payload map[string]*structpb.Value) {
	var flags uint32
	switch {
	case kind == "message.send_failed":
		a.flash.Warn("message not sent, press r in the thread to retry")
		flags = dirtyThread | dirtyStatus
	case kind == "call.error":
		a.flash.Warn("call: %s", payload["error"].GetStringValue())
		flags = dirtyStatus
	case kind == "transport.disconnected":
		a.flash.Warn("signaling link lost, use :reconnect to dial again")
		flags = dirtyStatus
	case strings.HasPrefix(kind, "message."):
		flags = dirtyThread | dirtyList
	case strings.HasPrefix(kind, "conversation."):
		flags = dirtyList
	case strings.HasPrefix(kind, "call."), strings.HasPrefix(kind, "transport."):
		flags = dirtyStatus
	case strings.HasPrefix(kind, "presence."):
		flags = dirtyPresence
	default:
		return
	}
	a.dirty.Or(flags)
	select {
	case a.dirtyCh <- struct{}{}:
	default:
	}
}

// refresher reloads what events invalidated. Bursts of events collapse
// into one reload per area.
func (a *App) refresher() {
	for {
		select {
		case <-a.dirtyCh:
		case <-a.ctx.Done():
			return
		}
		flags := a.dirty.Swap(0)
		var errs []error
		if flags&dirtyList != 0 {
			errs = append(errs, a.vm.RefreshConversations(a.ctx, false))
		}
		if flags&dirtyThread != 0 {
			errs = append(errs, a.vm.RefreshThread(a.ctx))
		}
		if flags&dirtyStatus != 0 {
			errs = append(errs, a.vm.RefreshStatus(a.ctx))
		}
		if flags&dirtyPresence != 0 && a.vm.Active() != "" {
			errs = append(errs, a.vm.RefreshPresence(a.ctx))
		}
		a.app.QueueUpdateDraw(func() {
			for _, err := range errs {
				if err != nil && a.ctx.Err() == nil {
					a.flash.Err(err)
					break
				}
			}
			if flags&dirtyList != 0 {
				a.list.Update(a.vm.Conversations(), a.vm.LocalID())
			}
			if flags&(dirtyThread|dirtyPresence) != 0 {
				a.renderThread()
			}
			if flags&dirtyStatus != 0 {
				a.renderCall()
			}
		})
	}
}

// ticker keeps uptime, call duration and flash expiry current.
func (a *App) ticker() {
	t := time.NewTicker(statusInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			err := a.vm.RefreshStatus(a.ctx)
			a.app.QueueUpdateDraw(func() {
				if err != nil && a.ctx.Err() == nil {
					a.flash.Err(fmt.Errorf("status: %w", err))
				}
				a.renderHeader()
				a.call.Update(a.vm.Call())
				a.flashBar.Update(a.flash.Current())
			})
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) flashes() {
	for {
		select {
		case m := <-a.flash.Watch():
			a.app.QueueUpdateDraw(func() { a.flashBar.Update(&m) })
		case <-a.ctx.Done():
			return
		}
	}
}
