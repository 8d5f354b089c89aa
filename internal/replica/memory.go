package replica

import (
	"context"
	"sync"
	"time"

	"github.com/roundrop/new-tab-text/internal/note"
)

// Memory is an in-process replica used by tests across packages. Failures
// and latency are injectable so protocol edge cases can be exercised
// deterministically.
type Memory struct {
	name     string
	capacity int
	risky    bool

	mu         sync.Mutex
	stored     *note.Note
	writeErr   error
	readErr    error
	pingErr    error
	writeDelay time.Duration
	writes     int
	reads      int
}

// NewMemory creates an empty in-memory replica.
func NewMemory(name string, capacity int, timeoutRisk bool) *Memory {
	return &Memory{name: name, capacity: capacity, risky: timeoutRisk}
}

func (m *Memory) Name() string      { return m.name }
func (m *Memory) Capacity() int     { return m.capacity }
func (m *Memory) TimeoutRisk() bool { return m.risky }

func (m *Memory) Write(ctx context.Context, n *note.Note) error {
	m.mu.Lock()
	delay := m.writeDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	cp := *n
	m.stored = &cp
	return nil
}

func (m *Memory) Read(ctx context.Context) (*note.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	if m.stored == nil {
		return nil, ErrNoRecord
	}
	cp := *m.stored
	return &cp, nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

// Test hooks.

// FailWrites makes every Write return err (nil restores normal behavior).
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// FailReads makes every Read return err (nil restores normal behavior).
func (m *Memory) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// FailPings makes every Ping return err.
func (m *Memory) FailPings(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// DelayWrites adds latency before each Write.
func (m *Memory) DelayWrites(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeDelay = d
}

// Seed stores a record directly, bypassing Write bookkeeping.
func (m *Memory) Seed(n *note.Note) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.stored = &cp
}

// Stored returns a copy of the stored record, or nil.
func (m *Memory) Stored() *note.Note {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		return nil
	}
	cp := *m.stored
	return &cp
}

// Writes returns how many Write calls were made.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Reads returns how many Read calls were made.
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}
