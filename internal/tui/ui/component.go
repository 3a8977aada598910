package ui

import "github.com/rivo/tview"

// MenuHint is a key shown in the header menu.
type MenuHint struct {
	Key         string
	Description string
}

// Component is a page that can be pushed on the Pages stack.
type Component interface {
	tview.Primitive
	Name() string
	Hints() []MenuHint
}
