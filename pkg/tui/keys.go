package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap holds all TUI key bindings.
type keyMap struct {
	Confirm key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Confirm: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "continue"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// keyBarText renders the context-sensitive key hint string.
func keyBarText(awaiting, done bool) string {
	switch {
	case done:
		return keyStyle.Render("enter") + keyDescStyle.Render(":exit")
	case awaiting:
		return keyStyle.Render("enter") + keyDescStyle.Render(":continue") + "  " +
			keyStyle.Render("q") + keyDescStyle.Render(":quit")
	}
	return keyStyle.Render("q") + keyDescStyle.Render(":quit")
}
