// Package lifecycle maps process and terminal lifecycle signals onto
// save triggers. The bus decouples signal sources (the terminal UI,
// OS signals) from the policy that reacts to them.
package lifecycle

import "sync"

// Kind identifies a lifecycle signal.
type Kind int

const (
	// FocusLost fires when the terminal loses focus.
	FocusLost Kind = iota
	// FocusGained fires when the terminal regains focus.
	FocusGained
	// Suspend fires when the process is about to be stopped or
	// backgrounded (SIGTSTP, terminal detach).
	Suspend
	// AutosaveTick fires on the periodic autosave interval.
	AutosaveTick
	// ThemeChanged fires when the color scheme flips.
	ThemeChanged
)

func (k Kind) String() string {
	switch k {
	case FocusLost:
		return "focus-lost"
	case FocusGained:
		return "focus-gained"
	case Suspend:
		return "suspend"
	case AutosaveTick:
		return "autosave-tick"
	case ThemeChanged:
		return "theme-changed"
	default:
		return "unknown"
	}
}

// Event is a lifecycle signal with its payload. Dark is meaningful only
// for ThemeChanged.
type Event struct {
	Kind Kind
	Dark bool
}

// Handler receives published events. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Bus is a minimal synchronous fan-out of lifecycle events.
type Bus struct {
	mu   sync.RWMutex
	subs []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, h)
}

// Publish delivers the event to every subscriber in subscription order.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, h := range subs {
		h(e)
	}
}
