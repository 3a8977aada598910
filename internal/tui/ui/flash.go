package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// FlashLevel is the severity of a flash message.
type FlashLevel int

const (
	FlashInfo FlashLevel = iota
	FlashWarn
	FlashErr
)

// FlashMessage is a transient notification.
type FlashMessage struct {
	Text    string
	Level   FlashLevel
	Expires time.Time
}

// Flash holds the latest notification and announces new ones on a channel.
// Messages are dropped from the channel when nobody is reading.
type Flash struct {
	mu      sync.Mutex
	current FlashMessage
	now     func() time.Time
	ch      chan FlashMessage
}

func NewFlash() *Flash {
	return &Flash{now: time.Now, ch: make(chan FlashMessage, 8)}
}

func (f *Flash) Info(format string, args ...any) {
	f.set(fmt.Sprintf(format, args...), FlashInfo, 4*time.Second)
}

func (f *Flash) Warn(format string, args ...any) {
	f.set(fmt.Sprintf(format, args...), FlashWarn, 8*time.Second)
}

func (f *Flash) Err(err error) {
	f.set(err.Error(), FlashErr, 10*time.Second)
}

func (f *Flash) set(text string, level FlashLevel, ttl time.Duration) {
	m := FlashMessage{Text: text, Level: level, Expires: f.now().Add(ttl)}
	f.mu.Lock()
	f.current = m
	f.mu.Unlock()
	select {
	case f.ch <- m:
	default:
	}
}

// Current returns the live message, or nil once it expired.
func (f *Flash) Current() *FlashMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current.Text == "" || f.now().After(f.current.Expires) {
		return nil
	}
	m := f.current
	return &m
}

// Watch returns the notification channel.
func (f *Flash) Watch() <-chan FlashMessage {
	return f.ch
}

// FlashBar renders the current flash message.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &FlashBar{TextView: tv, theme: theme}
}

func (fb *FlashBar) Update(m *FlashMessage) {
	if m == nil {
		fb.Clear()
		return
	}
	color := fb.theme.FlashInfoColor
	switch m.Level {
	case FlashWarn:
		color = fb.theme.FlashWarnColor
	case FlashErr:
		color = fb.theme.FlashErrColor
	}
	fb.SetText(fmt.Sprintf(" [%s]%s[-]", Tag(color), tview.Escape(m.Text)))
}
