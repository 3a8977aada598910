package ui

import "github.com/rivo/tview"

// Pages keeps registered components on a navigation stack.
type Pages struct {
	*tview.Pages
	components map[string]Component
	stack      []string
	onChange   func(top Component, stack []string)
}

func NewPages() *Pages {
	return &Pages{
		Pages:      tview.NewPages(),
		components: make(map[string]Component),
	}
}

// Register adds c as a hidden page. Registering a name twice replaces it.
func (p *Pages) Register(c Component) {
	p.components[c.Name()] = c
	p.AddPage(c.Name(), c, true, false)
}

// SetOnChange sets the callback run after every stack change.
func (p *Pages) SetOnChange(fn func(top Component, stack []string)) {
	p.onChange = fn
}

// Push shows the named page on top of the stack. A page already on the stack
// is moved to the top rather than duplicated.
func (p *Pages) Push(name string) {
	if _, ok := p.components[name]; !ok {
		return
	}
	if top := p.Current(); top == name {
		return
	} else if top != "" {
		p.HidePage(top)
	}
	p.remove(name)
	p.stack = append(p.stack, name)
	p.ShowPage(name)
	p.SendToFront(name)
	p.notify()
}

// Pop removes the top page. The root page is never popped.
func (p *Pages) Pop() string {
	if len(p.stack) < 2 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top)
	p.stack = p.stack[:len(p.stack)-1]
	current := p.stack[len(p.stack)-1]
	p.ShowPage(current)
	p.SendToFront(current)
	p.notify()
	return top
}

// Reset leaves only the named page on the stack.
func (p *Pages) Reset(name string) {
	for _, n := range p.stack {
		p.HidePage(n)
	}
	p.stack = nil
	p.Push(name)
}

// Current returns the name of the top page.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Top returns the component on top of the stack, or nil.
func (p *Pages) Top() Component {
	return p.components[p.Current()]
}

// Stack returns a copy of the page names, root first.
func (p *Pages) Stack() []string {
	return append([]string(nil), p.stack...)
}

func (p *Pages) remove(name string) {
	for i, n := range p.stack {
		if n == name {
			p.stack = append(p.stack[:i], p.stack[i+1:]...)
			return
		}
	}
}

func (p *Pages) notify() {
	if p.onChange != nil {
		p.onChange(p.Top(), p.Stack())
	}
}
