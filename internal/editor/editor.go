// Package editor is the terminal editing surface: a textarea whose
// every content change feeds the save orchestrator, plus a status line
// reflecting the save state. Terminal focus changes are forwarded to
// the lifecycle bus.
package editor

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/roundrop/new-tab-text/internal/lifecycle"
	"github.com/roundrop/new-tab-text/internal/saver"
)

// Buffer shares the live text between the UI goroutine and the save
// orchestrator, which reads it from its own goroutines.
type Buffer struct {
	mu   sync.RWMutex
	text string
}

func NewBuffer(text string) *Buffer {
	return &Buffer{text: text}
}

func (b *Buffer) Set(text string) {
	b.mu.Lock()
	b.text = text
	b.mu.Unlock()
}

func (b *Buffer) Get() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text
}

// SaveStatus is what the status line needs from the orchestrator.
type SaveStatus interface {
	State() saver.State
	Dirty() bool
}

const statusRefresh = time.Second

type statusTickMsg time.Time

// SetContentMsg replaces the editor text from outside the UI, used
// when a mirror-file edit is picked up.
type SetContentMsg struct {
	Content string
}

// Model is the BubbleTea editing model.
type Model struct {
	ta     textarea.Model
	buf    *Buffer
	bus    *lifecycle.Bus
	status SaveStatus
	theme  *Theme

	onChange func(content string)

	width    int
	height   int
	syncOn   bool
	quitting bool
}

// NewModel builds the editing surface seeded with content.
func NewModel(content string, buf *Buffer, bus *lifecycle.Bus, status SaveStatus, theme *Theme, onChange func(string), syncOn bool) Model {
	ta := textarea.New()
	ta.Placeholder = "Start typing..."
	ta.ShowLineNumbers = false
	ta.Prompt = ""
	ta.CharLimit = 0
	ta.SetValue(content)
	ta.CursorEnd()
	ta.Focus()

	buf.Set(content)

	return Model{
		ta:       ta,
		buf:      buf,
		bus:      bus,
		status:   status,
		theme:    theme,
		onChange: onChange,
		syncOn:   syncOn,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, statusTick())
}

func statusTick() tea.Cmd {
	return tea.Tick(statusRefresh, func(t time.Time) tea.Msg {
		return statusTickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "ctrl+t":
			m.bus.Publish(lifecycle.Event{Kind: lifecycle.ThemeChanged, Dark: !m.theme.IsDark()})
			return m, nil
		}

	case tea.FocusMsg:
		m.bus.Publish(lifecycle.Event{Kind: lifecycle.FocusGained})
		return m, nil

	case tea.BlurMsg:
		m.bus.Publish(lifecycle.Event{Kind: lifecycle.FocusLost})
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ta.SetWidth(msg.Width)
		if msg.Height > 1 {
			m.ta.SetHeight(msg.Height - 1)
		}
		return m, nil

	case SetContentMsg:
		if msg.Content != m.ta.Value() {
			m.ta.SetValue(msg.Content)
			m.buf.Set(msg.Content)
			if m.onChange != nil {
				m.onChange(msg.Content)
			}
		}
		return m, nil

	case statusTickMsg:
		// Redraw so the status line tracks save progress even while
		// the user is not typing.
		return m, statusTick()
	}

	before := m.ta.Value()
	var cmd tea.Cmd
	m.ta, cmd = m.ta.Update(msg)

	if after := m.ta.Value(); after != before {
		m.buf.Set(after)
		if m.onChange != nil {
			m.onChange(after)
		}
	}
	return m, cmd
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.ta.View(), m.statusLine())
}

// statusLine renders save state, sync mode, and an unsaved-changes
// notice.
func (m Model) statusLine() string {
	st := m.theme.Styles()

	var saveState string
	switch s := m.status.State(); s {
	case saver.StateIdle:
		if m.status.Dirty() {
			saveState = st.Unsaved.Render("● unsaved")
		} else {
			saveState = st.Saved.Render("✓ saved")
		}
	case saver.StateRetrying:
		saveState = st.Failed.Render("↻ retrying")
	default:
		saveState = st.Unsaved.Render("… " + s.String())
	}

	mode := "sync"
	if !m.syncOn {
		mode = "local"
	}

	left := fmt.Sprintf("%s %s %s",
		saveState,
		st.Dimmed.Render("│"),
		st.Dimmed.Render(mode))
	right := st.StatusKey.Render("^T") + st.Status.Render(" theme ") +
		st.StatusKey.Render("^C") + st.Status.Render(" quit")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + lipgloss.NewStyle().Width(gap).Render("") + right
}

// Value returns the current editor text.
func (m Model) Value() string {
	return m.ta.Value()
}
