package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestViewBindingsShadowGlobal(t *testing.T) {
	r := NewRegistry()
	var fired []string
	r.AddGlobal(Rune('q', "Quit", func() { fired = append(fired, "quit") }))
	r.AddGlobal(Rune('?', "Help", func() { fired = append(fired, "help") }))
	r.AddView("Call", Rune('q', "Hang up", func() { fired = append(fired, "hangup") }))

	q := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	if !r.HandleEvent("Call", q) || !r.HandleEvent("Conversations", q) {
		t.Fatal("q not handled")
	}
	if r.HandleEvent("Call", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("unbound key handled")
	}
	if len(fired) != 2 || fired[0] != "hangup" || fired[1] != "quit" {
		t.Errorf("fired = %v", fired)
	}
}

func TestSpecialKeys(t *testing.T) {
	r := NewRegistry()
	back := false
	r.AddView("Thread", Key(tcell.KeyEscape, "Back", func() { back = true }))

	if r.HandleEvent("Thread", tcell.NewEventKey(tcell.KeyRune, 'e', tcell.ModNone)) {
		t.Error("rune matched a special key binding")
	}
	if !r.HandleEvent("Thread", tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)) || !back {
		t.Error("escape not handled")
	}
}

func TestHintsKeepOrder(t *testing.T) {
	r := NewRegistry()
	noop := func() {}
	r.AddGlobal(Rune(':', "Command", noop))
	r.AddGlobal(Rune('x', "", noop))
	r.AddView("Thread", Rune('i', "Compose", noop))
	r.AddView("Thread", Rune('c', "Call", noop))

	hints := r.Hints("Thread")
	want := []string{"i", "c", ":"}
	if len(hints) != len(want) {
		t.Fatalf("hints = %+v", hints)
	}
	for i, h := range hints {
		if h.Key != want[i] {
			t.Errorf("hint %d = %q, want %q", i, h.Key, want[i])
		}
	}
}
