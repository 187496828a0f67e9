package keys

import "github.com/gdamore/tcell/v2"

// Action is one key binding.
type Action struct {
	Name        string
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches reports whether ev triggers a.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	return a.matches(ev.Key(), ev.Rune())
}

func (a *Action) matches(key tcell.Key, r rune) bool {
	if a.Key != tcell.KeyRune {
		return key == a.Key
	}
	return key == tcell.KeyRune && r == a.Rune
}

// Registry holds bindings per focus scope, in registration order so hints
// render the same way every time.
type Registry struct {
	global []*Action
	scopes map[string][]*Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{scopes: make(map[string][]*Action)}
}

// AddGlobal registers a binding active in every scope.
func (r *Registry) AddGlobal(a *Action) {
	r.global = append(r.global, a)
}

// Add registers a binding active only in scope.
func (r *Registry) Add(scope string, a *Action) {
	r.scopes[scope] = append(r.scopes[scope], a)
}

// Hints returns the visible descriptions for scope, scope bindings first.
func (r *Registry) Hints(scope string) []string {
	var hints []string
	for _, a := range r.scopes[scope] {
		if a.Visible {
			hints = append(hints, a.Description)
		}
	}
	for _, a := range r.global {
		if a.Visible {
			hints = append(hints, a.Description)
		}
	}
	return hints
}

// HandleEvent runs the first binding in scope, then global, matching ev.
// Reports whether one matched.
func (r *Registry) HandleEvent(scope string, ev *tcell.EventKey) bool {
	return r.handle(scope, ev.Key(), ev.Rune())
}

func (r *Registry) handle(scope string, key tcell.Key, ch rune) bool {
	for _, a := range r.scopes[scope] {
		if a.matches(key, ch) {
			a.Handler()
			return true
		}
	}
	for _, a := range r.global {
		if a.matches(key, ch) {
			a.Handler()
			return true
		}
	}
	return false
}
