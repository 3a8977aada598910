package keys

import "github.com/gdamore/tcell/v2"

// Action is a single key binding.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Label       string
	Description string
	Handler     func()
}

// Matches reports whether ev triggers the action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	if a.Key != tcell.KeyRune {
		return ev.Key() == a.Key
	}
	return ev.Key() == tcell.KeyRune && ev.Rune() == a.Rune
}

// Hint is a displayable binding.
type Hint struct {
	Key         string
	Description string
}

// Registry holds the global bindings and the bindings of each view. Lookups
// keep registration order, and view bindings shadow global ones.
type Registry struct {
	global []*Action
	views  map[string][]*Action
}

func NewRegistry() *Registry {
	return &Registry{views: make(map[string][]*Action)}
}

// Rune is shorthand for a printable key binding.
func Rune(r rune, description string, handler func()) *Action {
	return &Action{Key: tcell.KeyRune, Rune: r, Label: string(r), Description: description, Handler: handler}
}

// Key is shorthand for a special key binding.
func Key(k tcell.Key, description string, handler func()) *Action {
	return &Action{Key: k, Label: tcell.KeyNames[k], Description: description, Handler: handler}
}

func (r *Registry) AddGlobal(a *Action) {
	r.global = append(r.global, a)
}

func (r *Registry) AddView(view string, a *Action) {
	r.views[view] = append(r.views[view], a)
}

// Hints returns the view's bindings followed by the global ones. Actions
// without a description are hidden.
func (r *Registry) Hints(view string) []Hint {
	var hints []Hint
	for _, a := range append(append([]*Action(nil), r.views[view]...), r.global...) {
		if a.Description != "" {
			hints = append(hints, Hint{Key: a.Label, Description: a.Description})
		}
	}
	return hints
}

// HandleEvent runs the first binding matching ev and reports whether one did.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	for _, a := range r.views[view] {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	for _, a := range r.global {
		if a.Matches(ev) {
			a.Handler()
			return true
		}
	}
	return false
}
