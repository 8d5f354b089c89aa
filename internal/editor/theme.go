package editor

import (
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// palette holds the colors for one color scheme.
type palette struct {
	text      lipgloss.Color
	dimmed    lipgloss.Color
	accent    lipgloss.Color
	warning   lipgloss.Color
	errorized lipgloss.Color
	statusBg  lipgloss.Color
}

var darkPalette = palette{
	text:      lipgloss.Color("252"),
	dimmed:    lipgloss.Color("243"),
	accent:    lipgloss.Color("45"),
	warning:   lipgloss.Color("214"),
	errorized: lipgloss.Color("196"),
	statusBg:  lipgloss.Color("236"),
}

var lightPalette = palette{
	text:      lipgloss.Color("235"),
	dimmed:    lipgloss.Color("245"),
	accent:    lipgloss.Color("27"),
	warning:   lipgloss.Color("130"),
	errorized: lipgloss.Color("124"),
	statusBg:  lipgloss.Color("254"),
}

// Styles is the rendered style set for the current scheme.
type Styles struct {
	Text      lipgloss.Style
	Dimmed    lipgloss.Style
	Status    lipgloss.Style
	StatusKey lipgloss.Style
	Saved     lipgloss.Style
	Unsaved   lipgloss.Style
	Failed    lipgloss.Style
}

// Theme switches between the dark and light scheme and hands out the
// matching styles. Safe for concurrent use: the theme sink runs on the
// lifecycle bus while the UI renders.
type Theme struct {
	mu     sync.RWMutex
	dark   bool
	styles Styles
}

// NewTheme starts in the given scheme.
func NewTheme(dark bool) *Theme {
	t := &Theme{dark: dark}
	t.styles = buildStyles(dark)
	return t
}

// IsDark reports the active scheme.
func (t *Theme) IsDark() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dark
}

// Toggle flips the scheme and returns the new darkness.
func (t *Theme) Toggle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dark = !t.dark
	t.styles = buildStyles(t.dark)
	return t.dark
}

// SetDark selects a scheme explicitly.
func (t *Theme) SetDark(dark bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dark == dark {
		return
	}
	t.dark = dark
	t.styles = buildStyles(dark)
}

// Styles returns the style set for the active scheme.
func (t *Theme) Styles() Styles {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.styles
}

func buildStyles(dark bool) Styles {
	p := lightPalette
	if dark {
		p = darkPalette
	}
	return Styles{
		Text:      lipgloss.NewStyle().Foreground(p.text),
		Dimmed:    lipgloss.NewStyle().Foreground(p.dimmed),
		Status:    lipgloss.NewStyle().Foreground(p.dimmed).Background(p.statusBg).Padding(0, 1),
		StatusKey: lipgloss.NewStyle().Foreground(p.accent).Background(p.statusBg).Bold(true),
		Saved:     lipgloss.NewStyle().Foreground(p.accent),
		Unsaved:   lipgloss.NewStyle().Foreground(p.warning).Bold(true),
		Failed:    lipgloss.NewStyle().Foreground(p.errorized).Bold(true),
	}
}
