package ui

import (
	"testing"
	"time"

	"github.com/rivo/tview"
)

type page struct {
	*tview.Box
	name string
}

func (p page) Name() string       { return p.name }
func (p page) Hints() []MenuHint { return nil }

func newPages(names ...string) *Pages {
	p := NewPages()
	for _, n := range names {
		p.Register(page{Box: tview.NewBox(), name: n})
	}
	return p
}

func TestPagesStack(t *testing.T) {
	p := newPages("Conversations", "Thread", "Help")
	var seen []string
	p.SetOnChange(func(top Component, stack []string) { seen = append(seen, top.Name()) })

	p.Push("Conversations")
	p.Push("Thread")
	p.Push("Help")
	if got := p.Stack(); len(got) != 3 || got[2] != "Help" {
		t.Fatalf("stack = %v", got)
	}

	// Pushing a page already on the stack moves it to the top.
	p.Push("Thread")
	if got := p.Stack(); len(got) != 3 || got[1] != "Help" || got[2] != "Thread" {
		t.Fatalf("stack after re-push = %v", got)
	}

	if popped := p.Pop(); popped != "Thread" {
		t.Errorf("popped %q", popped)
	}
	p.Pop()
	if popped := p.Pop(); popped != "" {
		t.Errorf("root page popped: %q", popped)
	}
	if p.Current() != "Conversations" {
		t.Errorf("current = %q", p.Current())
	}
	if len(seen) != 6 || seen[len(seen)-1] != "Conversations" {
		t.Errorf("notifications = %v", seen)
	}
}

func TestPagesIgnoresUnknown(t *testing.T) {
	p := newPages("Conversations")
	p.Push("Nope")
	if p.Current() != "" || p.Top() != nil {
		t.Errorf("unknown page pushed: %q", p.Current())
	}
	p.Reset("Conversations")
	if got := p.Stack(); len(got) != 1 {
		t.Errorf("stack = %v", got)
	}
}

func TestFlashExpires(t *testing.T) {
	f := NewFlash()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	if f.Current() != nil {
		t.Fatal("empty flash reported a message")
	}
	f.Warn("link %s", "down")
	m := f.Current()
	if m == nil || m.Text != "link down" || m.Level != FlashWarn {
		t.Fatalf("current = %+v", m)
	}
	if got := <-f.Watch(); got.Text != "link down" {
		t.Errorf("watched %q", got.Text)
	}

	now = now.Add(9 * time.Second)
	if f.Current() != nil {
		t.Error("warning outlived its ttl")
	}
}

func TestFormatUptime(t *testing.T) {
	cases := map[time.Duration]string{
		0:                             "0m",
		7 * time.Minute:               "7m",
		3*time.Hour + 12*time.Minute:  "3h12m",
		26*time.Hour + 59*time.Second: "26h0m",
	}
	for d, want := range cases {
		if got := FormatUptime(d); got != want {
			t.Errorf("FormatUptime(%v) = %q, want %q", d, got, want)
		}
	}
}
